// # internal/core/app/app.go
//
// The application service: one Run call takes a tree (or inline content)
// through collection, batch parsing, the result spool, and a report
// writer. Every outer surface (CLI, API, watch mode) drives this.
package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"strata/internal/batch"
	"strata/internal/core/config"
	errs "strata/internal/core/errors"
	"strata/internal/core/ports"
	"strata/internal/data/spool"
	"strata/internal/shared/util"
)

type Service struct {
	Config  *config.Config
	Version string

	// Progress receives batch lifecycle events; defaults to no UI.
	Progress ports.Progress

	// Launcher overrides how pool workers are spawned. Nil re-executes
	// this binary in worker mode.
	Launcher batch.Launcher

	// SpoolFactory builds the per-run result spool. The default follows
	// [spool]: sqlite when enabled, in-memory otherwise.
	SpoolFactory func(runID string, capacity int) (ports.Spool, error)
}

func New(cfg *config.Config, version string) (*Service, error) {
	if cfg == nil {
		return nil, errs.New(errs.CodeConfig, "config is required")
	}
	s := &Service{
		Config:   cfg,
		Version:  version,
		Progress: ports.NopProgress{},
	}
	s.SpoolFactory = s.defaultSpool
	return s, nil
}

func (s *Service) defaultSpool(runID string, capacity int) (ports.Spool, error) {
	if s.Config.Spool.Enabled {
		return spool.OpenSQLite(s.Config.Spool.Path, runID, s.Config.Spool.BusyTimeout)
	}
	return spool.NewMemory(capacity), nil
}

// output resolves where the rendered report goes: an explicit writer wins,
// then the configured output path, then stdout.
func (s *Service) output(req RunRequest) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	if req.Out != nil {
		return req.Out, nop, nil
	}
	if path := strings.TrimSpace(s.Config.Output.Path); path != "" {
		f, err := util.CreateFileWithDirs(path)
		if err != nil {
			return nil, nil, errs.AddContext(
				errs.Wrap(err, errs.CodeConfig, "create output file"),
				errs.CtxPath, path)
		}
		return f, f.Close, nil
	}
	return os.Stdout, nop, nil
}

func (s *Service) format(req RunRequest) string {
	if f := strings.TrimSpace(req.Format); f != "" {
		return f
	}
	return s.Config.Output.Format
}

func outcomeLabel(timedOut bool, failed, degraded bool) string {
	switch {
	case timedOut:
		return "timeout"
	case failed:
		return "failed"
	case degraded:
		return "degraded"
	}
	return "completed"
}

func engineLabel(engine string) string {
	if engine == "" {
		return "none"
	}
	return engine
}

func languageLabel(language string) string {
	if language == "" {
		return "unknown"
	}
	return language
}

func describeSpool(cfg config.Spool) string {
	if cfg.Enabled {
		return fmt.Sprintf("sqlite (%s)", cfg.Path)
	}
	return "memory"
}
