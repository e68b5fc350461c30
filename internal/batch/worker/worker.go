// # internal/batch/worker/worker.go
//
// The in-worker half of the batch protocol: a pipeline running
// cascade-merge-scan for one item at a time, and the stdio serve loop the
// pool talks to. One worker owns one compiled-query cache; nothing here is
// shared across processes.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
	"strata/internal/engine/cascade"
	"strata/internal/engine/merge"
	"strata/internal/engine/parse"
	"strata/internal/engine/query"
	"strata/internal/engine/secrets"
	"strata/internal/engine/tier"
	"strata/internal/lang"
)

// MethodParse is the single call the worker protocol speaks.
const MethodParse = "parse"

// Pipeline runs the cascade, merges the tier results, and appends secret
// findings for one work item at a time. The pool dispatches at most one
// item per worker and the sequential path runs items in order, so the
// pipeline itself holds no locks.
type Pipeline struct {
	cache    *query.Cache
	cascade  *cascade.Controller
	strategy merge.Strategy
	scanner  *secrets.Scanner
}

func NewPipeline(snap wire.Snapshot) (*Pipeline, error) {
	strategy, err := merge.ParseStrategy(snap.MergeStrategy)
	if err != nil {
		return nil, err
	}
	cache := query.New(snap.CacheMaxSize)
	registry := tier.DefaultRegistry(cache)
	p := &Pipeline{
		cache: cache,
		cascade: cascade.New(registry, cascade.Options{
			EarlyTermination: snap.EarlyTermination,
			Threshold:        snap.Threshold,
			MaxFileBytes:     snap.MaxFileBytes,
		}),
		strategy: strategy,
	}
	if snap.ScanSecrets {
		scanner, err := secrets.NewScanner(secrets.Options{})
		if err != nil {
			return nil, err
		}
		p.scanner = scanner
	}
	return p, nil
}

// Close releases the compiled queries owned by this pipeline.
func (p *Pipeline) Close() {
	p.cache.Purge()
}

// Run executes one work item. Malformed input never fails: it surfaces in
// the result's error and quality fields. The only error returned is a parse
// tier defect, which callers treat as fatal to the whole batch.
func (p *Pipeline) Run(item wire.WorkItem) (wire.WorkResult, error) {
	start := time.Now()
	language := lang.Detect(item.FilePath, item.LanguageHint)

	results, err := p.cascade.Run(item.Content, item.FilePath, language)
	if err != nil {
		return wire.WorkResult{}, err
	}
	merged := merge.Merge(results, p.strategy)
	if p.scanner != nil {
		if issues := p.scanner.Scan(item.Content); len(issues) > 0 {
			merged.SecurityIssues = append(merged.SecurityIssues, issues...)
		}
	}

	return wire.WorkResult{
		Index:      item.Index,
		FilePath:   item.FilePath,
		Result:     wire.EncodeResult(merged),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// Serve runs the worker side of the protocol on rwc until the coordinator
// disconnects or ctx is cancelled. It is the entry point of the hidden
// worker mode the pool spawns.
func Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	h := &handler{}
	defer h.close()

	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(h.handle))
	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

// Stdio adapts the process's standard streams to the connection Serve
// expects. Logs must go to stderr in worker mode; stdout is the protocol
// channel.
func Stdio() io.ReadWriteCloser {
	return stdio{}
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error {
	_ = os.Stdin.Close()
	return os.Stdout.Close()
}

// handler owns the lazily-built pipeline. A work item carrying a different
// config fingerprint rebuilds it, which never happens within one batch.
type handler struct {
	mu       sync.Mutex
	pipeline *Pipeline
	hash     string
}

func (h *handler) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if req.Method != MethodParse {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method %q not handled", req.Method),
		}
	}
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "work item missing"}
	}
	var item wire.WorkItem
	if err := json.Unmarshal(*req.Params, &item); err != nil {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: fmt.Sprintf("decode work item: %v", err),
		}
	}
	return h.parse(item)
}

func (h *handler) parse(item wire.WorkItem) (wire.WorkResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if item.FilePath == "" {
		return refused(item, errs.New(errs.CodeSerialization, "work item missing file path")), nil
	}
	if !item.Config.Verify() {
		return refused(item, errs.New(errs.CodeSerialization, "config snapshot failed fingerprint check")), nil
	}

	if h.pipeline == nil || h.hash != item.Config.Hash {
		if h.pipeline != nil {
			h.pipeline.Close()
		}
		p, err := NewPipeline(item.Config)
		if err != nil {
			return refused(item, err), nil
		}
		h.pipeline = p
		h.hash = item.Config.Hash
	}

	res, err := h.pipeline.Run(item)
	if err != nil {
		// A tier defect aborts the batch, so it travels as an RPC error
		// rather than a per-file failure.
		return wire.WorkResult{}, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
	}
	return res, nil
}

func (h *handler) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pipeline != nil {
		h.pipeline.Close()
		h.pipeline = nil
	}
}

// refused downgrades an item the worker cannot safely run to an
// error-bearing result, keeping the batch alive.
func refused(item wire.WorkItem, err error) wire.WorkResult {
	slog.Warn("refusing work item", "path", item.FilePath, "error", err)
	res := &parse.Result{
		FilePath:   item.FilePath,
		Language:   item.LanguageHint,
		Quality:    parse.QualityMinimal,
		Error:      err.Error(),
		Confidence: 0.0,
		LineCount:  parse.CountLines(item.Content),
	}
	return wire.WorkResult{Index: item.Index, FilePath: item.FilePath, Result: wire.EncodeResult(res)}
}
