// # internal/cancel/token.go
//
// Cooperative cancellation for one batch run. The token is a forward-only
// state machine driven by interrupt signals from the controlling goroutine
// and consulted by workers at file boundaries.
package cancel

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// State identifies where a token is in its lifecycle. Transitions only move
// forward.
type State int32

const (
	Idle State = iota
	Running
	GracefulStop
	ForceStop
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case GracefulStop:
		return "graceful-stop"
	case ForceStop:
		return "force-stop"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultGraceWindow bounds how quickly a second interrupt escalates a
// graceful stop into a forced one.
const DefaultGraceWindow = 2 * time.Second

// Token coordinates cancellation between the controlling goroutine and the
// in-flight work of one batch. Workers read it through Cancelled and Forced;
// only the controller drives transitions. A token is single use: once it
// leaves Idle it can never return there.
type Token struct {
	state       atomic.Int32
	cancelled   atomic.Bool
	forced      atomic.Bool
	signalledAt atomic.Int64

	window time.Duration
	now    func() time.Time
}

func NewToken(window time.Duration) *Token {
	if window <= 0 {
		window = DefaultGraceWindow
	}
	return &Token{window: window, now: time.Now}
}

// Start moves the token from Idle to Running and reports whether it did.
// A false return means the token was already used.
func (t *Token) Start() bool {
	return t.state.CompareAndSwap(int32(Idle), int32(Running))
}

// Signal records one cancellation request and returns the resulting state.
// The first signal asks for a graceful stop. A second signal inside the
// grace window escalates to a forced stop; outside the window it is a no-op
// because the graceful drain is already bounded by the per-file timeout.
// Signals after ForceStop or Stopped change nothing.
func (t *Token) Signal() State {
	for {
		cur := State(t.state.Load())
		switch cur {
		case Idle, Running:
			t.signalledAt.Store(t.now().UnixNano())
			t.cancelled.Store(true)
			if t.state.CompareAndSwap(int32(cur), int32(GracefulStop)) {
				return GracefulStop
			}
		case GracefulStop:
			first := time.Unix(0, t.signalledAt.Load())
			if t.now().Sub(first) > t.window {
				return GracefulStop
			}
			if t.state.CompareAndSwap(int32(GracefulStop), int32(ForceStop)) {
				t.forced.Store(true)
				return ForceStop
			}
		default:
			return cur
		}
	}
}

// Stop marks the token terminal once the batch has fully wound down. It is
// safe to call from any state and is idempotent.
func (t *Token) Stop() {
	for {
		cur := State(t.state.Load())
		if cur == Stopped {
			return
		}
		if t.state.CompareAndSwap(int32(cur), int32(Stopped)) {
			return
		}
	}
}

func (t *Token) State() State {
	return State(t.state.Load())
}

// Cancelled reports whether any cancellation signal has arrived. The flag is
// monotonic: once true it stays true for the life of the token.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Forced reports whether cancellation escalated to an immediate stop.
func (t *Token) Forced() bool {
	return t.forced.Load()
}

// Watch installs the process interrupt handler that feeds this token. It
// must be called from the goroutine that owns the batch; workers never
// intercept signals themselves and observe the token cooperatively instead.
// The returned function releases the handler.
func (t *Token) Watch(sigs ...os.Signal) func() {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				t.Signal()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
