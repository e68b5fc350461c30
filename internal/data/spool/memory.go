// # internal/data/spool/memory.go
package spool

import (
	"context"
	"sort"
	"sync"

	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
	"strata/internal/core/ports"
)

var _ ports.Spool = (*Memory)(nil)

// Memory buffers results in process. It is the sink when the sqlite spool
// is disabled: same port, no persistence, the whole run stays resident.
type Memory struct {
	mu      sync.Mutex
	results []wire.WorkResult
	closed  bool
}

func NewMemory(capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory{results: make([]wire.WorkResult, 0, capacity)}
}

func (m *Memory) Put(res wire.WorkResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errs.New(errs.CodeSpool, "spool closed")
	}
	m.results = append(m.results, res)
	return nil
}

func (m *Memory) Drain(ctx context.Context, fn func(wire.WorkResult) error) error {
	m.mu.Lock()
	snapshot := make([]wire.WorkResult, len(m.results))
	copy(snapshot, m.results)
	m.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Index < snapshot[j].Index })
	for _, res := range snapshot {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(err, errs.CodeCancelled, "drain cancelled")
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results), nil
}

func (m *Memory) Purge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = m.results[:0]
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
