// # internal/shared/observability/tracing.go
package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	errs "strata/internal/core/errors"
)

// Tracer is the tracer every span in the process starts from. It delegates
// through the global provider, so spans recorded before InitTracing runs
// are dropped and spans after it flow to the exporter.
var Tracer trace.Tracer = otel.Tracer("strata")

type TracingConfig struct {
	Endpoint    string
	SampleRatio float64
	Version     string
}

// InitTracing installs an OTLP/gRPC trace pipeline and returns its shutdown
// hook. An empty endpoint leaves the noop provider in place. The connection
// is plaintext; the endpoint is expected to be a collector on this host.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeConfig, "create otlp trace exporter")
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "strata"),
			attribute.String("service.version", cfg.Version),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
