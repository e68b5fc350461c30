// # internal/core/app/run.go
package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"strata/internal/batch"
	"strata/internal/batch/wire"
	"strata/internal/cancel"
	"strata/internal/collect"
	"strata/internal/core/config"
	errs "strata/internal/core/errors"
	"strata/internal/core/ports"
	"strata/internal/report"
	"strata/internal/shared/observability"
)

// RunRequest describes one parse run. Files bypasses the collector; Roots
// overrides the configured collection roots. Zero values fall back to the
// service configuration.
type RunRequest struct {
	Roots  []string
	Files  []collect.File
	Format string
	Out    io.Writer
	Token  *cancel.Token
}

// RunSummary is what remains after the report has been written.
type RunSummary struct {
	RunID    string
	Files    int
	Stats    batch.Stats
	Duration time.Duration
}

// Run executes the full pipeline: collect, parse in batch, spool the
// result stream, replay it through a report writer. The rendered report
// goes to the resolved output; the summary comes back to the caller.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	runID := uuid.NewString()
	ctx, span := observability.Tracer.Start(ctx, "service.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	started := time.Now()
	summary := RunSummary{RunID: runID}

	files, err := s.sources(ctx, req)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}
	summary.Files = len(files)
	span.SetAttributes(attribute.Int("run.files", len(files)))

	out, closeOut, err := s.output(req)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}
	defer closeOut()

	writer, err := report.New(s.format(req), out)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}

	sp, err := s.SpoolFactory(runID, len(files))
	if err != nil {
		span.RecordError(err)
		return summary, errs.Wrap(err, errs.CodeSpool, "open result spool")
	}
	defer sp.Close()

	stats, err := s.parse(ctx, runID, files, req.Token, sp)
	summary.Stats = stats
	summary.Duration = time.Since(started)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}

	if err := s.render(ctx, writer, runID, sp, stats); err != nil {
		span.RecordError(err)
		return summary, err
	}
	if err := sp.Purge(); err != nil {
		span.RecordError(err)
		return summary, err
	}
	// Explicit close on the success path; the deferred one only backstops
	// early returns.
	if err := closeOut(); err != nil {
		span.RecordError(err)
		return summary, errs.Wrap(err, errs.CodeInternal, "close output")
	}

	slog.Info("run complete",
		"run", runID,
		"files", summary.Files,
		"failed", stats.Failed,
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// sources returns the files to parse, running the collector unless the
// request carries inline content.
func (s *Service) sources(ctx context.Context, req RunRequest) ([]collect.File, error) {
	if len(req.Files) > 0 {
		return req.Files, nil
	}

	roots := req.Roots
	if len(roots) == 0 {
		roots = s.Config.Collect.Roots
	}
	exts, names := languageTables(s.Config.Languages)
	collector, err := collect.New(collect.Options{
		Roots:           roots,
		Include:         s.Config.Collect.Include,
		ExcludeDirs:     s.Config.Collect.Exclude.Dirs,
		ExcludeFiles:    s.Config.Collect.Exclude.Files,
		MaxFileBytes:    s.Config.Collect.MaxFileBytes,
		ReadParallelism: s.Config.Collect.ReadParallelism,
		LanguageExts:    exts,
		LanguageNames:   names,
	})
	if err != nil {
		return nil, err
	}

	collectStart := time.Now()
	files, err := collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	observability.CollectDuration.Observe(time.Since(collectStart).Seconds())
	return files, nil
}

// parse runs the batch and feeds every result to the spool, progress sink,
// and metrics. Returns the aggregate counters once the stream has closed.
func (s *Service) parse(ctx context.Context, runID string, files []collect.File, token *cancel.Token, sp ports.Spool) (batch.Stats, error) {
	items := make([]wire.WorkItem, len(files))
	for i, f := range files {
		items[i] = wire.WorkItem{
			FilePath:     f.Path,
			Content:      f.Content,
			LanguageHint: f.LanguageHint,
		}
	}

	coordinator, err := batch.New(batch.Config{
		MaxWorkers:          s.Config.Batch.MaxWorkers,
		SequentialThreshold: s.Config.Batch.SequentialThreshold,
		PerFileTimeout:      s.Config.Batch.PerFileTimeout(),
		Snapshot:            s.Config.Snapshot(),
	}, token, s.Launcher)
	if err != nil {
		return batch.Stats{}, err
	}

	batchStart := time.Now()
	results, err := coordinator.ProcessBatch(ctx, items)
	if err != nil {
		return batch.Stats{}, err
	}

	progress := s.Progress
	if progress == nil {
		progress = ports.NopProgress{}
	}
	progress.Begin(len(items))
	for res := range results {
		s.observe(res)
		progress.Update(res)
		if err := sp.Put(res); err != nil {
			return coordinator.Stats(), errs.AddContext(err, errs.CtxRun, runID)
		}
	}
	observability.BatchDuration.Observe(time.Since(batchStart).Seconds())

	stats := coordinator.Stats()
	progress.End(stats)
	observability.FilesProcessedTotal.WithLabelValues("cancelled").Add(float64(stats.Cancelled))

	if err := coordinator.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// observe records the per-file metrics for one result.
func (s *Service) observe(res wire.WorkResult) {
	rec := res.Result
	language, engine := "", ""
	failed := rec == nil
	degraded := false
	if rec != nil {
		language = rec.Language
		engine = rec.EngineUsed
		failed = rec.Error != ""
		degraded = rec.Degraded
	}
	observability.ParseDuration.
		WithLabelValues(languageLabel(language), engineLabel(engine)).
		Observe(float64(res.DurationMS) / 1000)
	observability.FilesProcessedTotal.
		WithLabelValues(outcomeLabel(res.TimedOut, failed, degraded)).
		Inc()
}

// render replays the spooled results in index order through the writer.
func (s *Service) render(ctx context.Context, writer report.Writer, runID string, sp ports.Spool, stats batch.Stats) error {
	depth, err := sp.Count(ctx)
	if err != nil {
		return err
	}
	observability.SpoolDepth.Set(float64(depth))
	defer observability.SpoolDepth.Set(0)

	if err := writer.Begin(report.Meta{
		Version:     s.Version,
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := sp.Drain(ctx, writer.File); err != nil {
		return err
	}
	return writer.End(stats)
}

func languageTables(languages map[string]config.Language) (exts, names map[string]string) {
	if len(languages) == 0 {
		return nil, nil
	}
	exts = make(map[string]string)
	names = make(map[string]string)
	for language, tables := range languages {
		for _, ext := range tables.Extensions {
			exts[ext] = language
		}
		for _, name := range tables.Filenames {
			names[name] = language
		}
	}
	return exts, names
}
