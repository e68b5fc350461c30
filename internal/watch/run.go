// # internal/watch/run.go
package watch

import (
	"context"
	"log/slog"
	"strings"

	"strata/internal/core/app"
	"strata/internal/core/config"
)

// Run drives watch mode: one full pipeline run up front, then one per
// debounced change burst. A non-empty configPath turns on hot reload;
// a reloaded configuration rebuilds the watcher and takes effect on the
// next run.
func Run(ctx context.Context, svc *app.Service, configPath string) error {
	bursts := make(chan []string, 1)
	notify := func(paths []string) {
		select {
		case bursts <- paths:
		default:
			// A burst is already queued; its run re-collects everything.
		}
	}

	watcher, err := start(svc.Config, notify)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	reloads := make(chan *config.Config, 1)
	if strings.TrimSpace(configPath) != "" {
		cw := config.NewWatcher(configPath, func(next *config.Config) {
			select {
			case reloads <- next:
			default:
			}
		})
		if err := cw.Start(ctx); err != nil {
			return err
		}
		defer cw.Stop()
	}

	runOnce := func() {
		summary, err := svc.Run(ctx, app.RunRequest{})
		if err != nil {
			slog.Error("watch run failed", "error", err)
			return
		}
		slog.Info("watch run complete", "run", summary.RunID, "files", summary.Files)
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case next := <-reloads:
			replacement, err := start(next, notify)
			if err != nil {
				slog.Error("rebuild watcher after config reload", "error", err)
				continue
			}
			_ = watcher.Close()
			watcher = replacement
			svc.Config = next
			slog.Info("configuration reloaded")
			runOnce()

		case paths := <-bursts:
			slog.Info("change detected", "files", len(paths), "first", paths[0])
			runOnce()
		}
	}
}

func start(cfg *config.Config, notify func([]string)) (*Watcher, error) {
	w, err := New(Options{
		Roots:        cfg.Collect.Roots,
		Debounce:     cfg.Watch.Debounce,
		ExcludeDirs:  cfg.Collect.Exclude.Dirs,
		ExcludeFiles: cfg.Collect.Exclude.Files,
		Include:      cfg.Collect.Include,
		IgnorePaths:  ignoreTargets(cfg),
	}, notify)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// ignoreTargets lists the files runs write themselves. Watching them would
// turn every report into the next run's trigger.
func ignoreTargets(cfg *config.Config) []string {
	targets := make([]string, 0, 2)
	if strings.TrimSpace(cfg.Output.Path) != "" {
		targets = append(targets, cfg.Output.Path)
	}
	if cfg.Spool.Enabled && strings.TrimSpace(cfg.Spool.Path) != "" {
		targets = append(targets, cfg.Spool.Path)
	}
	return targets
}
