// # internal/core/ports/ports.go
//
// Interfaces the application service is wired with at startup. The batch
// and tier packages define their own narrow seams next to their consumers;
// what lives here is what main swaps between runs: where results go and
// who watches them happen.
package ports

import (
	"context"

	"strata/internal/batch"
	"strata/internal/batch/wire"
)

// Spool buffers one run's result stream so rendering can replay it in
// index order without holding the whole batch in memory. Put is called
// from the result loop in completion order; Drain replays sorted.
type Spool interface {
	Put(res wire.WorkResult) error
	Drain(ctx context.Context, fn func(wire.WorkResult) error) error
	Count(ctx context.Context) (int, error)
	Purge() error
	Close() error
}

// Progress receives batch lifecycle events. Implementations must return
// quickly; Update runs on the hot result path.
type Progress interface {
	Begin(total int)
	Update(res wire.WorkResult)
	End(stats batch.Stats)
}

// NopProgress is the default when no UI is attached.
type NopProgress struct{}

func (NopProgress) Begin(int)              {}
func (NopProgress) Update(wire.WorkResult) {}
func (NopProgress) End(batch.Stats)        {}
