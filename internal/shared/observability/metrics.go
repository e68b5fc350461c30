// # internal/shared/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strata_parse_seconds",
		Help:    "Time spent parsing one source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language", "engine"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_batch_seconds",
		Help:    "Wall time for one whole batch.",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	CollectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_collect_seconds",
		Help:    "Time spent walking roots and reading files.",
		Buckets: prometheus.DefBuckets,
	})

	FilesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_files_processed_total",
		Help: "Files finished per outcome: completed, failed, degraded, timeout, cancelled.",
	}, []string{"outcome"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strata_active_workers",
		Help: "Pool worker slots currently running.",
	})

	WorkerCrashesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_worker_crashes_total",
		Help: "Worker processes that died mid-call and were replaced.",
	})

	SpoolDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strata_spool_depth",
		Help: "Result rows currently buffered in the spool.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_watcher_events_total",
		Help: "File system events received in watch mode.",
	})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_api_requests_total",
		Help: "API requests served, by route and status code.",
	}, []string{"route", "status"})
)
