// # internal/batch/coordinator.go
//
// Batch execution: small batches run the pipeline in-process, large ones
// fan out to a fixed pool of child worker processes. Results stream in
// completion order; callers re-sort by the index carried on each item if
// they need submission order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"strata/internal/batch/wire"
	"strata/internal/batch/worker"
	"strata/internal/cancel"
	errs "strata/internal/core/errors"
	"strata/internal/engine/merge"
	"strata/internal/engine/parse"
	"strata/internal/shared/observability"
)

const (
	DefaultSequentialThreshold = 50
	DefaultPerFileTimeout      = 60 * time.Second

	// forcePollInterval is how often the pool checks for an escalated stop
	// while workers are blocked on in-flight calls.
	forcePollInterval = 50 * time.Millisecond

	// maxConsecutiveCrashes bounds worker recycling. A slot that keeps
	// dying is a corrupted pool and aborts the batch.
	maxConsecutiveCrashes = 3
)

// Config carries the batch-level knobs. Snapshot is the parse configuration
// shipped to every worker.
type Config struct {
	MaxWorkers          int
	SequentialThreshold int
	PerFileTimeout      time.Duration
	Snapshot            wire.Snapshot
}

// Stats aggregates one batch. Completed counts every emitted WorkResult,
// synthetic ones included; Skipped counts items never dispatched because of
// cancellation.
type Stats struct {
	TotalFiles      int
	Completed       int
	Failed          int
	Degraded        int
	TimedOut        int
	Cancelled       int
	Skipped         int
	Incomplete      bool
	AvgConfidence   float64
	TiersByLanguage map[string]map[string]int
}

// Coordinator runs one batch and is then spent; build a new one per batch.
type Coordinator struct {
	cfg      Config
	token    *cancel.Token
	launcher Launcher
	used     atomic.Bool

	mu      sync.Mutex
	stats   Stats
	confSum float64
	err     error
}

// New validates the configuration up front: a bad merge strategy or a
// non-positive worker count must fail here, before any file is touched.
// A nil token gets a private one; a nil launcher spawns this binary in
// worker mode.
func New(cfg Config, token *cancel.Token, launcher Launcher) (*Coordinator, error) {
	if _, err := merge.ParseStrategy(cfg.Snapshot.MergeStrategy); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers <= 0 {
		return nil, errs.New(errs.CodeConfig, fmt.Sprintf("max workers must be positive, got %d", cfg.MaxWorkers))
	}
	if cfg.SequentialThreshold < 0 {
		return nil, errs.New(errs.CodeConfig, fmt.Sprintf("sequential threshold must not be negative, got %d", cfg.SequentialThreshold))
	}
	if cfg.SequentialThreshold == 0 {
		cfg.SequentialThreshold = DefaultSequentialThreshold
	}
	if cfg.PerFileTimeout <= 0 {
		cfg.PerFileTimeout = DefaultPerFileTimeout
	}
	if token == nil {
		token = cancel.NewToken(0)
	}
	if launcher == nil {
		launcher = &ProcLauncher{}
	}
	return &Coordinator{cfg: cfg, token: token, launcher: launcher}, nil
}

// ProcessBatch dispatches every item and returns a channel streaming
// WorkResults in completion order. The channel is buffered for the whole
// batch and closes when processing ends, normally or not; call Err
// afterwards for the terminal error and Stats for the aggregate counters.
func (c *Coordinator) ProcessBatch(ctx context.Context, items []wire.WorkItem) (<-chan wire.WorkResult, error) {
	if c.used.Swap(true) {
		return nil, errs.New(errs.CodeInternal, "coordinator is single use; build a new one per batch")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	started := c.token.Start()
	if !started {
		// The one legitimate way to arrive here is a signal that beat the
		// batch to the token; anything else is a reused token.
		st := c.token.State()
		if !c.token.Cancelled() || (st != cancel.GracefulStop && st != cancel.ForceStop) {
			return nil, errs.New(errs.CodeInternal, "cancellation token already consumed")
		}
	}

	normalized := c.normalize(items)
	out := make(chan wire.WorkResult, len(normalized))

	c.mu.Lock()
	c.stats.TotalFiles = len(normalized)
	c.mu.Unlock()

	spanCtx, span := observability.Tracer.Start(ctx, "batch.process",
		trace.WithAttributes(attribute.Int("batch.files", len(normalized))))

	go func() {
		defer close(out)
		defer c.token.Stop()
		defer span.End()

		var err error
		switch {
		case !started:
			// Cancelled before the first file: an empty, flagged set.
			c.noteSkipped(len(normalized))
		case len(normalized) < c.cfg.SequentialThreshold:
			err = c.runSequential(spanCtx, normalized, out)
		default:
			err = c.runPool(spanCtx, normalized, out)
		}
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.stats.Incomplete = true
			c.mu.Unlock()
			span.RecordError(err)
			slog.Error("batch aborted", "error", err)
		}
	}()
	return out, nil
}

// Err reports the error that aborted the batch, if any. Valid once the
// result channel has closed.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stats returns a copy of the aggregate counters. Valid once the result
// channel has closed.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	if stats.Completed > 0 {
		stats.AvgConfidence = c.confSum / float64(stats.Completed)
	}
	stats.TiersByLanguage = make(map[string]map[string]int, len(c.stats.TiersByLanguage))
	for language, tiers := range c.stats.TiersByLanguage {
		inner := make(map[string]int, len(tiers))
		for name, n := range tiers {
			inner[name] = n
		}
		stats.TiersByLanguage[language] = inner
	}
	return stats
}

// normalize stamps submission order and the sealed config snapshot onto
// each item. The coordinator owns both; whatever the caller put there is
// overwritten.
func (c *Coordinator) normalize(items []wire.WorkItem) []wire.WorkItem {
	snap := c.cfg.Snapshot.Sealed()
	normalized := make([]wire.WorkItem, len(items))
	for i, item := range items {
		item.Index = i
		item.Config = snap
		normalized[i] = item
	}
	return normalized
}

// runSequential executes the batch in-process. There is no per-file timeout
// on this path: abandoning an in-process parse would leak its goroutine, so
// small batches rely on cancellation checks at file boundaries instead.
func (c *Coordinator) runSequential(ctx context.Context, items []wire.WorkItem, out chan<- wire.WorkResult) error {
	pipeline, err := worker.NewPipeline(c.cfg.Snapshot)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	for i, item := range items {
		if c.token.Cancelled() || ctx.Err() != nil {
			c.noteSkipped(len(items) - i)
			return nil
		}
		res, err := pipeline.Run(item)
		if err != nil {
			return err
		}
		c.observe(res)
		out <- res
	}
	return nil
}

// runPool fans the batch out to child worker processes, one in-flight item
// per worker.
func (c *Coordinator) runPool(ctx context.Context, items []wire.WorkItem, out chan<- wire.WorkResult) error {
	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()

	g, gctx := errgroup.WithContext(poolCtx)
	queue := make(chan wire.WorkItem)

	// Escalation watcher: a forced stop cancels every in-flight call and,
	// through the launch context, kills the worker processes.
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		ticker := time.NewTicker(forcePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return
			case <-ticker.C:
				if c.token.Forced() {
					slog.Warn("forced stop, terminating workers")
					stopPool()
					return
				}
			}
		}
	}()

	g.Go(func() error {
		return c.feed(gctx, items, queue)
	})

	workers := min(c.cfg.MaxWorkers, len(items))
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return c.workerLoop(gctx, queue, out)
		})
	}

	err := g.Wait()
	stopPool()
	<-watcherDone
	if c.token.Cancelled() {
		c.mu.Lock()
		c.stats.Incomplete = true
		c.mu.Unlock()
	}
	return err
}

// feed hands items to worker goroutines until the queue drains or a
// cancellation arrives. A graceful stop means no new submissions; items
// already handed off run to completion.
func (c *Coordinator) feed(ctx context.Context, items []wire.WorkItem, queue chan<- wire.WorkItem) error {
	defer close(queue)
	for i := range items {
		if c.token.Cancelled() {
			c.noteSkipped(len(items) - i)
			return nil
		}
		select {
		case queue <- items[i]:
		case <-ctx.Done():
			c.noteSkipped(len(items) - i)
			return nil
		}
	}
	return nil
}

// workerLoop owns one pool slot: it launches a worker process, runs items
// against it one at a time, and recycles it after a timeout or crash. The
// slot's process never outlives the loop.
func (c *Coordinator) workerLoop(ctx context.Context, queue <-chan wire.WorkItem, out chan<- wire.WorkResult) error {
	w, err := c.launcher.Launch(ctx)
	if err != nil {
		return errs.Wrap(err, errs.CodeWorkerCrash, "launch worker")
	}
	observability.ActiveWorkers.Inc()
	defer observability.ActiveWorkers.Dec()
	defer func() {
		if w != nil {
			_ = w.Kill()
		}
	}()

	crashes := 0
	for {
		var item wire.WorkItem
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case item, ok = <-queue:
			if !ok {
				return nil
			}
		}

		callCtx, cancelCall := context.WithTimeout(ctx, c.cfg.PerFileTimeout)
		res, callErr := w.Call(callCtx, item)
		cancelCall()

		switch {
		case callErr == nil:
			crashes = 0
			c.observe(res)
			out <- res
			continue

		case isDefect(callErr):
			// The worker itself answered with a protocol error; that is a
			// programming defect, not a file problem.
			return errs.Wrap(callErr, errs.CodeInternal, "worker reported defect")

		case c.token.Forced():
			res = synthetic(item, "cancelled", false, 0)
			c.noteCancelled()
			c.observe(res)
			out <- res
			return nil

		case ctx.Err() != nil:
			// The pool is shutting down for a reason recorded elsewhere.
			return nil

		case errors.Is(callErr, context.DeadlineExceeded):
			slog.Warn("work item timed out", "path", item.FilePath, "timeout", c.cfg.PerFileTimeout)
			res = synthetic(item, "parse timeout", true, c.cfg.PerFileTimeout.Milliseconds())
			c.observe(res)
			out <- res
			// The hung process still owns the abandoned parse; only a kill
			// reclaims it.
			_ = w.Kill()
			w = nil

		default:
			crashes++
			observability.WorkerCrashesTotal.Inc()
			slog.Warn("worker crashed", "path", item.FilePath, "error", callErr)
			res = synthetic(item, fmt.Sprintf("worker crashed: %v", callErr), false, 0)
			c.observe(res)
			out <- res
			if crashes >= maxConsecutiveCrashes {
				return errs.Wrap(callErr, errs.CodeWorkerCrash,
					fmt.Sprintf("worker slot died %d times in a row, pool unrecoverable", crashes))
			}
			_ = w.Kill()
			w = nil
		}

		w, err = c.launcher.Launch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.Wrap(err, errs.CodeWorkerCrash, "relaunch worker")
		}
	}
}

// isDefect reports whether the call failed with a response-level error, as
// opposed to a transport failure such as a timeout or a dead process.
func isDefect(err error) bool {
	var respErr *jsonrpc2.Error
	return errors.As(err, &respErr)
}

// synthetic builds the coordinator-side failure result for an item whose
// worker never produced one.
func synthetic(item wire.WorkItem, msg string, timedOut bool, durationMS int64) wire.WorkResult {
	res := &parse.Result{
		FilePath:   item.FilePath,
		Language:   item.LanguageHint,
		Quality:    parse.QualityMinimal,
		Error:      msg,
		Confidence: 0.0,
		LineCount:  parse.CountLines(item.Content),
	}
	return wire.WorkResult{
		Index:      item.Index,
		FilePath:   item.FilePath,
		Result:     wire.EncodeResult(res),
		DurationMS: durationMS,
		TimedOut:   timedOut,
	}
}

func (c *Coordinator) observe(res wire.WorkResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Completed++
	if res.TimedOut {
		c.stats.TimedOut++
	}
	rec := res.Result
	if rec == nil {
		c.stats.Failed++
		return
	}
	if rec.Error != "" {
		c.stats.Failed++
	}
	if rec.Degraded {
		c.stats.Degraded++
	}
	c.confSum += rec.Confidence

	language := rec.Language
	if language == "" {
		language = "unknown"
	}
	for _, name := range strings.Split(rec.EngineUsed, ",") {
		if name == "" {
			continue
		}
		if c.stats.TiersByLanguage == nil {
			c.stats.TiersByLanguage = make(map[string]map[string]int)
		}
		if c.stats.TiersByLanguage[language] == nil {
			c.stats.TiersByLanguage[language] = make(map[string]int)
		}
		c.stats.TiersByLanguage[language][name]++
	}
}

func (c *Coordinator) noteSkipped(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.stats.Skipped += n
	c.stats.Incomplete = true
	c.mu.Unlock()
}

func (c *Coordinator) noteCancelled() {
	c.mu.Lock()
	c.stats.Cancelled++
	c.mu.Unlock()
}
