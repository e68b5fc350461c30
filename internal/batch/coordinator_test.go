package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"strata/internal/batch/wire"
	"strata/internal/cancel"
	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
)

type behaveFunc func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error)

type fakeLauncher struct {
	mu       sync.Mutex
	launched int
	behave   behaveFunc
}

func (l *fakeLauncher) Launch(ctx context.Context) (Worker, error) {
	l.mu.Lock()
	l.launched++
	l.mu.Unlock()
	return &fakeWorker{behave: l.behave}, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

type fakeWorker struct {
	behave behaveFunc
}

func (w *fakeWorker) Call(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
	return w.behave(ctx, item)
}

func (w *fakeWorker) Kill() error { return nil }

func okResult(item wire.WorkItem) wire.WorkResult {
	res := &parse.Result{
		FilePath: item.FilePath,
		Language: "go",
		Declarations: []parse.Declaration{
			{Name: "f", Kind: parse.KindFunction, StartLine: 1, EndLine: 1},
		},
		Quality:    parse.QualityFull,
		EngineUsed: "structural",
		Confidence: 0.9,
		LineCount:  1,
	}
	return wire.WorkResult{
		Index:      item.Index,
		FilePath:   item.FilePath,
		Result:     wire.EncodeResult(res),
		DurationMS: 1,
	}
}

func poolConfig() Config {
	return Config{
		MaxWorkers:          2,
		SequentialThreshold: 1,
		PerFileTimeout:      time.Second,
		Snapshot: wire.Snapshot{
			MergeStrategy:    "confidence_weighted",
			EarlyTermination: true,
			Threshold:        5,
			CacheMaxSize:     8,
		},
	}
}

func testItems(n int) []wire.WorkItem {
	items := make([]wire.WorkItem, n)
	for i := range items {
		items[i] = wire.WorkItem{
			FilePath: fmt.Sprintf("file%02d.go", i),
			Content:  []byte("package x\n"),
		}
	}
	return items
}

func drain(t *testing.T, out <-chan wire.WorkResult) []wire.WorkResult {
	t.Helper()
	var results []wire.WorkResult
	deadline := time.After(10 * time.Second)
	for {
		select {
		case res, ok := <-out:
			if !ok {
				return results
			}
			results = append(results, res)
		case <-deadline:
			t.Fatal("timed out draining batch results")
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := poolConfig()
	cfg.Snapshot.MergeStrategy = "majority_vote"
	if _, err := New(cfg, nil, nil); !errs.IsCode(err, errs.CodeConfig) {
		t.Fatalf("bad strategy error = %v, want config error", err)
	}

	cfg = poolConfig()
	cfg.MaxWorkers = 0
	if _, err := New(cfg, nil, nil); !errs.IsCode(err, errs.CodeConfig) {
		t.Fatalf("zero workers error = %v, want config error", err)
	}

	cfg = poolConfig()
	cfg.SequentialThreshold = -1
	if _, err := New(cfg, nil, nil); !errs.IsCode(err, errs.CodeConfig) {
		t.Fatalf("negative threshold error = %v, want config error", err)
	}
}

func TestSequentialSmallBatch(t *testing.T) {
	cfg := poolConfig()
	cfg.SequentialThreshold = 0 // use the default, far above 3 items

	coord, err := New(cfg, nil, &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		t.Error("sequential batches must not launch workers")
		return wire.WorkResult{}, nil
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := []wire.WorkItem{
		{FilePath: "a.go", Content: []byte("package a\n\nfunc A() {}\n")},
		{FilePath: "b.go", Content: []byte("package b\n\nfunc B() {}\n")},
		{FilePath: "c.py", Content: []byte("def c():\n    pass\n")},
	}
	out, err := coord.ProcessBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	results := drain(t, out)
	if err := coord.Err(); err != nil {
		t.Fatalf("batch error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, res := range results {
		if res.Index != i {
			t.Fatalf("sequential results out of order: index %d at position %d", res.Index, i)
		}
		decoded, err := wire.DecodeResult(res.Result, res.FilePath)
		if err != nil {
			t.Fatalf("decode result %d: %v", i, err)
		}
		if decoded.DeclCount() == 0 {
			t.Fatalf("result %s has no declarations", res.FilePath)
		}
	}

	stats := coord.Stats()
	if stats.TotalFiles != 3 || stats.Completed != 3 || stats.Incomplete {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgConfidence <= 0 {
		t.Fatalf("average confidence = %v, want > 0", stats.AvgConfidence)
	}
	if len(stats.TiersByLanguage["go"]) == 0 {
		t.Fatalf("tiers by language = %+v", stats.TiersByLanguage)
	}
}

func TestPoolCompletesAllItems(t *testing.T) {
	launcher := &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		if item.Index%2 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		return okResult(item), nil
	}}
	coord, err := New(poolConfig(), nil, launcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := testItems(8)
	out, err := coord.ProcessBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	results := drain(t, out)
	if err := coord.Err(); err != nil {
		t.Fatalf("batch error: %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}

	seen := make(map[int]bool, len(results))
	for _, res := range results {
		if seen[res.Index] {
			t.Fatalf("duplicate result for index %d", res.Index)
		}
		seen[res.Index] = true
	}
	if launcher.count() != 2 {
		t.Fatalf("launched %d workers, want 2", launcher.count())
	}
	if stats := coord.Stats(); stats.Completed != 8 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPoolTimeoutSynthesizesResult(t *testing.T) {
	launcher := &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		if strings.HasPrefix(item.FilePath, "hang") {
			<-ctx.Done()
			return wire.WorkResult{}, ctx.Err()
		}
		return okResult(item), nil
	}}
	cfg := poolConfig()
	cfg.PerFileTimeout = 30 * time.Millisecond
	coord, err := New(cfg, nil, launcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := testItems(5)
	items[2].FilePath = "hang.go"
	out, err := coord.ProcessBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	results := drain(t, out)
	if err := coord.Err(); err != nil {
		t.Fatalf("batch error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}

	var timedOut *wire.WorkResult
	for i := range results {
		if results[i].TimedOut {
			timedOut = &results[i]
		}
	}
	if timedOut == nil {
		t.Fatal("no timed-out result emitted")
	}
	if timedOut.FilePath != "hang.go" {
		t.Fatalf("timed out path = %q, want hang.go", timedOut.FilePath)
	}
	decoded, _ := wire.DecodeResult(timedOut.Result, timedOut.FilePath)
	if decoded.Error != "parse timeout" || decoded.Quality != parse.QualityMinimal {
		t.Fatalf("synthetic timeout result = %+v", decoded)
	}

	if launcher.count() < 3 {
		t.Fatalf("launched %d workers, want a respawn after the timeout", launcher.count())
	}
	if stats := coord.Stats(); stats.TimedOut != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPoolCrashSynthesizesAndRecycles(t *testing.T) {
	var crashed sync.Once
	launcher := &fakeLauncher{}
	launcher.behave = func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		var boom error
		crashed.Do(func() { boom = errors.New("pipe closed") })
		if boom != nil {
			return wire.WorkResult{}, boom
		}
		return okResult(item), nil
	}
	coord, err := New(poolConfig(), nil, launcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := coord.ProcessBatch(context.Background(), testItems(6))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	results := drain(t, out)
	if err := coord.Err(); err != nil {
		t.Fatalf("a single crash must not abort the batch: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}

	var failures int
	for _, res := range results {
		decoded, _ := wire.DecodeResult(res.Result, res.FilePath)
		if strings.HasPrefix(decoded.Error, "worker crashed") {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("got %d crash results, want 1", failures)
	}
	if launcher.count() < 3 {
		t.Fatalf("launched %d workers, want a replacement after the crash", launcher.count())
	}
}

func TestPoolRepeatedCrashesAbort(t *testing.T) {
	launcher := &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		return wire.WorkResult{}, errors.New("pipe closed")
	}}
	cfg := poolConfig()
	cfg.MaxWorkers = 1
	coord, err := New(cfg, nil, launcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := coord.ProcessBatch(context.Background(), testItems(6))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	results := drain(t, out)

	if err := coord.Err(); !errs.IsCode(err, errs.CodeWorkerCrash) {
		t.Fatalf("batch error = %v, want worker crash", err)
	}
	if len(results) != maxConsecutiveCrashes {
		t.Fatalf("got %d results before abort, want %d", len(results), maxConsecutiveCrashes)
	}
	if !coord.Stats().Incomplete {
		t.Fatal("aborted batch must be flagged incomplete")
	}
}

func TestPoolDefectAbortsBatch(t *testing.T) {
	launcher := &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		return wire.WorkResult{}, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: "parse tier defect"}
	}}
	coord, err := New(poolConfig(), nil, launcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := coord.ProcessBatch(context.Background(), testItems(4))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	drain(t, out)

	if err := coord.Err(); !errs.IsCode(err, errs.CodeInternal) {
		t.Fatalf("batch error = %v, want internal defect", err)
	}
}

func TestGracefulCancelStopsSubmitting(t *testing.T) {
	token := cancel.NewToken(0)
	launcher := &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		select {
		case <-time.After(5 * time.Millisecond):
			return okResult(item), nil
		case <-ctx.Done():
			return wire.WorkResult{}, ctx.Err()
		}
	}}
	coord, err := New(poolConfig(), token, launcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	total := 40
	out, err := coord.ProcessBatch(context.Background(), testItems(total))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	var results []wire.WorkResult
	first, ok := <-out
	if !ok {
		t.Fatal("batch produced no results before cancellation")
	}
	results = append(results, first)
	token.Signal()
	results = append(results, drain(t, out)...)

	if err := coord.Err(); err != nil {
		t.Fatalf("graceful cancellation is not an error: %v", err)
	}
	if len(results) >= total {
		t.Fatalf("got %d results, want fewer than %d after cancellation", len(results), total)
	}
	stats := coord.Stats()
	if !stats.Incomplete || stats.Skipped == 0 {
		t.Fatalf("stats = %+v, want incomplete with skipped items", stats)
	}
	if token.State() != cancel.Stopped {
		t.Fatalf("token state = %v, want Stopped", token.State())
	}
}

func TestForcedCancelTerminatesInFlightWork(t *testing.T) {
	token := cancel.NewToken(time.Minute)
	launcher := &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		<-ctx.Done()
		return wire.WorkResult{}, ctx.Err()
	}}
	cfg := poolConfig()
	cfg.PerFileTimeout = time.Minute
	coord, err := New(cfg, token, launcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := coord.ProcessBatch(context.Background(), testItems(4))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	token.Signal()
	token.Signal()
	if !token.Forced() {
		t.Fatal("second signal inside the window must force")
	}

	start := time.Now()
	results := drain(t, out)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("forced stop took %v, want prompt termination", elapsed)
	}

	if err := coord.Err(); err != nil {
		t.Fatalf("forced cancellation is not an error: %v", err)
	}
	var cancelled int
	for _, res := range results {
		decoded, _ := wire.DecodeResult(res.Result, res.FilePath)
		if decoded.Error == "cancelled" {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Fatal("want synthesized cancelled results for in-flight items")
	}
	stats := coord.Stats()
	if !stats.Incomplete || stats.Cancelled == 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCancelledBeforeStartYieldsEmptyFlaggedSet(t *testing.T) {
	token := cancel.NewToken(0)
	token.Signal()

	coord, err := New(poolConfig(), token, &fakeLauncher{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := coord.ProcessBatch(context.Background(), testItems(3))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if results := drain(t, out); len(results) != 0 {
		t.Fatalf("got %d results, want none", len(results))
	}
	stats := coord.Stats()
	if !stats.Incomplete || stats.Skipped != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCoordinatorIsSingleUse(t *testing.T) {
	coord, err := New(poolConfig(), nil, &fakeLauncher{behave: func(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
		return okResult(item), nil
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := coord.ProcessBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("first ProcessBatch: %v", err)
	}
	drain(t, out)

	if _, err := coord.ProcessBatch(context.Background(), nil); !errs.IsCode(err, errs.CodeInternal) {
		t.Fatalf("second ProcessBatch error = %v, want internal", err)
	}
}
