// # internal/ui/progress/run.go
package progress

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"strata/internal/batch"
	"strata/internal/batch/wire"
	"strata/internal/cancel"
	"strata/internal/core/app"
)

// feed forwards batch lifecycle events into the running program. Send is
// safe from the result loop's goroutine.
type feed struct {
	program *tea.Program
}

func (f feed) Begin(total int) {
	f.program.Send(beginMsg{total: total})
}

func (f feed) Update(res wire.WorkResult) {
	f.program.Send(resultMsg{res: res})
}

func (f feed) End(stats batch.Stats) {
	f.program.Send(statsMsg{stats: stats})
}

// Run executes one service run under the progress display and blocks until
// both the run and the UI have wound down. The quit keys signal the token
// rather than killing the program, so in-flight files still drain.
func Run(ctx context.Context, svc *app.Service, req app.RunRequest, token *cancel.Token) error {
	if req.Token == nil {
		req.Token = token
	}
	m := initialModel(func() {
		if token != nil {
			token.Signal()
		}
	})
	p := tea.NewProgram(m, tea.WithContext(ctx))
	svc.Progress = feed{program: p}

	runErr := make(chan error, 1)
	go func() {
		_, err := svc.Run(ctx, req)
		runErr <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		// The context is shared, so the run unwinds with the program.
		<-runErr
		return err
	}
	return <-runErr
}
