// # internal/core/config/watcher.go
package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	errs "strata/internal/core/errors"
)

// reloadDebounce absorbs the editor write-rename-chmod flurry one save
// produces.
const reloadDebounce = 100 * time.Millisecond

// Watcher monitors one configuration file and hands every successfully
// reloaded Config to the callback. A reload that fails to parse or
// validate is logged and dropped; the previous configuration stays live.
type Watcher struct {
	path     string
	callback func(*Config)
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWatcher(path string, callback func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		callback: callback,
		stop:     make(chan struct{}),
	}
}

// Start begins watching. The parent directory is registered rather than
// the file itself so atomic saves, which replace the file, keep working.
func (w *Watcher) Start(ctx context.Context) error {
	if w.callback == nil {
		return errs.New(errs.CodeConfig, "config watch callback is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, errs.CodeInternal, "create config watcher")
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return errs.AddContext(errs.Wrap(err, errs.CodeConfig, "watch config directory"), errs.CtxPath, w.path)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer fsw.Close()

		slog.Info("watching configuration", "path", w.path)

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, w.reload)

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Error("config watcher error", "error", err)

			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	slog.Info("configuration file changed", "path", w.path)
	w.callback(cfg)
}
