// # internal/data/spool/spool_test.go
package spool

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
)

func sampleResult(idx int) wire.WorkResult {
	return wire.WorkResult{
		Index:    idx,
		FilePath: fmt.Sprintf("file%02d.go", idx),
		Result: &wire.ResultRecord{
			FilePath:   fmt.Sprintf("file%02d.go", idx),
			Language:   "go",
			Quality:    "full",
			Confidence: 0.9,
		},
		DurationMS: 12,
	}
}

func newTestSQLite(t *testing.T, runID string) *SQLite {
	t.Helper()
	spool, err := OpenSQLite(filepath.Join(t.TempDir(), "spool.db"), runID, 0)
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	return spool
}

func drainAll(t *testing.T, s interface {
	Drain(ctx context.Context, fn func(wire.WorkResult) error) error
}) []wire.WorkResult {
	t.Helper()
	var out []wire.WorkResult
	err := s.Drain(context.Background(), func(res wire.WorkResult) error {
		out = append(out, res)
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return out
}

func TestSQLiteSpool_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spool.db")

	spool, err := OpenSQLite(path, "run-a", 0)
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	if err := spool.Put(sampleResult(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := spool.Put(sampleResult(0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("close spool: %v", err)
	}

	spool, err = OpenSQLite(path, "run-a", 0)
	if err != nil {
		t.Fatalf("reopen spool: %v", err)
	}
	defer spool.Close()

	rows := drainAll(t, spool)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Index != 0 || rows[1].Index != 1 {
		t.Fatalf("expected index order 0,1, got %d,%d", rows[0].Index, rows[1].Index)
	}
	if rows[0].FilePath != "file00.go" {
		t.Fatalf("expected file path file00.go, got %q", rows[0].FilePath)
	}
	if rows[0].Result == nil || rows[0].Result.Quality != "full" {
		t.Fatalf("payload did not survive the round trip: %+v", rows[0].Result)
	}
}

func TestSQLiteSpool_IsolatesRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")

	a, err := OpenSQLite(path, "run-a", 0)
	if err != nil {
		t.Fatalf("open run-a: %v", err)
	}
	defer a.Close()
	b, err := OpenSQLite(path, "run-b", 0)
	if err != nil {
		t.Fatalf("open run-b: %v", err)
	}
	defer b.Close()

	if err := a.Put(sampleResult(0)); err != nil {
		t.Fatalf("put run-a: %v", err)
	}
	if err := b.Put(sampleResult(0)); err != nil {
		t.Fatalf("put run-b: %v", err)
	}
	if err := a.Purge(); err != nil {
		t.Fatalf("purge run-a: %v", err)
	}

	countA, err := a.Count(context.Background())
	if err != nil {
		t.Fatalf("count run-a: %v", err)
	}
	countB, err := b.Count(context.Background())
	if err != nil {
		t.Fatalf("count run-b: %v", err)
	}
	if countA != 0 || countB != 1 {
		t.Fatalf("expected counts 0/1, got %d/%d", countA, countB)
	}
}

func TestSQLiteSpool_PurgeRemovesRows(t *testing.T) {
	spool := newTestSQLite(t, "run-a")
	defer spool.Close()

	for i := 0; i < 3; i++ {
		if err := spool.Put(sampleResult(i)); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if err := spool.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	count, err := spool.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0 after purge, got %d", count)
	}
}

func TestSQLiteSpool_RejectsBadPath(t *testing.T) {
	if _, err := OpenSQLite("", "run-a", 0); !errs.IsCode(err, errs.CodeSpool) {
		t.Fatalf("empty path: %v, want spool code", err)
	}
	if _, err := OpenSQLite(t.TempDir(), "run-a", 0); !errs.IsCode(err, errs.CodeSpool) {
		t.Fatalf("directory path: %v, want spool code", err)
	}
}

func TestMemorySpool_DrainsInIndexOrder(t *testing.T) {
	spool := NewMemory(4)
	for _, idx := range []int{2, 0, 1} {
		if err := spool.Put(sampleResult(idx)); err != nil {
			t.Fatalf("put %d: %v", idx, err)
		}
	}

	rows := drainAll(t, spool)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, res := range rows {
		if res.Index != i {
			t.Fatalf("row %d has index %d", i, res.Index)
		}
	}
}

func TestMemorySpool_ClosedRejectsPut(t *testing.T) {
	spool := NewMemory(1)
	if err := spool.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := spool.Put(sampleResult(0)); !errs.IsCode(err, errs.CodeSpool) {
		t.Fatalf("put after close: %v, want spool code", err)
	}
}

func TestMemorySpool_PurgeResets(t *testing.T) {
	spool := NewMemory(1)
	if err := spool.Put(sampleResult(0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := spool.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	count, err := spool.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0, got %d", count)
	}
}
