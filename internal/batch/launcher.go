// # internal/batch/launcher.go
package batch

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/sourcegraph/jsonrpc2"

	"strata/internal/batch/wire"
	"strata/internal/batch/worker"
)

// Launcher starts workers for the pool. The default implementation spawns
// this binary in its hidden worker mode; tests substitute in-process fakes.
type Launcher interface {
	Launch(ctx context.Context) (Worker, error)
}

// Worker is one live worker endpoint. The pool keeps exactly one call in
// flight per worker; Kill must be safe to call at any point and must not
// leave the underlying process running.
type Worker interface {
	Call(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error)
	Kill() error
}

// ProcLauncher spawns worker child processes speaking the parse protocol
// over stdio. An empty Path means the current executable.
type ProcLauncher struct {
	Path string
	Args []string
}

func (l *ProcLauncher) Launch(ctx context.Context) (Worker, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		path = exe
	}
	args := l.Args
	if len(args) == 0 {
		args = []string{"worker"}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	rwc := &procStdio{reader: stdout, writer: stdin}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(rejectRequests))

	// Worker logs arrive on stderr; pass them through.
	go func() { _, _ = io.Copy(os.Stderr, stderr) }()

	if err := cmd.Start(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &procWorker{cmd: cmd, conn: conn}, nil
}

func rejectRequests(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "coordinator handles no requests"}
}

type procWorker struct {
	cmd  *exec.Cmd
	conn *jsonrpc2.Conn
}

func (w *procWorker) Call(ctx context.Context, item wire.WorkItem) (wire.WorkResult, error) {
	var res wire.WorkResult
	if err := w.conn.Call(ctx, worker.MethodParse, item, &res); err != nil {
		return wire.WorkResult{}, err
	}
	return res, nil
}

func (w *procWorker) Kill() error {
	_ = w.conn.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_, _ = w.cmd.Process.Wait()
	}
	return nil
}

type procStdio struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *procStdio) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *procStdio) Write(p []byte) (int, error) { return s.writer.Write(p) }
func (s *procStdio) Close() error {
	_ = s.reader.Close()
	return s.writer.Close()
}
