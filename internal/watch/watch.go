// # internal/watch/watch.go
//
// Filesystem watching for watch mode. Events are debounced into bursts;
// each burst means "something parseable changed" and the caller re-runs
// the pipeline. The watcher never inspects content, it only decides
// whether a path is worth a run.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	errs "strata/internal/core/errors"
	"strata/internal/lang"
	"strata/internal/shared/observability"
	"strata/internal/shared/util"
)

type Options struct {
	Roots    []string
	Debounce time.Duration

	// Exclude globs match base names, dirs pruning whole subtrees.
	// Include globs rescue files whose language detection comes up empty,
	// mirroring the collector's escape hatch.
	ExcludeDirs  []string
	ExcludeFiles []string
	Include      []string

	// IgnorePaths are files this process writes itself (report output,
	// spool database). Events under them must not feed back into a run.
	IgnorePaths []string
}

type Watcher struct {
	fsw     *fsnotify.Watcher
	opts    Options
	onBurst func([]string)

	include   []glob.Glob
	exclDirs  []glob.Glob
	exclFiles []glob.Glob
	ignore    []string

	pendingMu sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer

	closeOnce sync.Once
}

func New(opts Options, onBurst func(paths []string)) (*Watcher, error) {
	if onBurst == nil {
		return nil, errs.New(errs.CodeConfig, "watch callback is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if len(opts.Roots) == 0 {
		opts.Roots = []string{"."}
	}

	w := &Watcher{
		opts:    opts,
		onBurst: onBurst,
		pending: make(map[string]struct{}),
	}

	var err error
	if w.include, err = compile(opts.Include); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfig, "compile watch include patterns")
	}
	if w.exclDirs, err = compile(opts.ExcludeDirs); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfig, "compile watch exclude dir patterns")
	}
	if w.exclFiles, err = compile(opts.ExcludeFiles); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfig, "compile watch exclude file patterns")
	}
	for _, p := range opts.IgnorePaths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if abs, absErr := filepath.Abs(p); absErr == nil {
			p = abs
		}
		w.ignore = append(w.ignore, p)
	}

	if w.fsw, err = fsnotify.NewWatcher(); err != nil {
		return nil, errs.Wrap(err, errs.CodeInternal, "create filesystem watcher")
	}
	return w, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Start registers every root recursively and begins delivering bursts.
func (w *Watcher) Start() error {
	for _, root := range w.opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return errs.AddContext(errs.Wrap(err, errs.CodeConfig, "resolve watch root"), errs.CtxPath, root)
		}
		if err := w.watchRecursive(abs); err != nil {
			return errs.AddContext(errs.Wrap(err, errs.CodeConfig, "watch root"), errs.CtxPath, abs)
		}
	}
	go w.run()
	return nil
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.pendingMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pendingMu.Unlock()
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		// The root itself is never pruned, matching the collector.
		if path != root && w.excludedDir(filepath.Base(path)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.excludedPath(event.Name) {
				return
			}
			if err := w.watchRecursive(event.Name); err != nil {
				slog.Warn("watch new directory", "path", event.Name, "error", err)
				return
			}
			w.enqueueExisting(event.Name)
			return
		}
	}

	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	if w.dropped(event.Name) {
		return
	}
	w.schedule(event.Name)
}

// dropped decides whether a file event is irrelevant to the pipeline.
func (w *Watcher) dropped(path string) bool {
	if w.excludedPath(path) {
		return true
	}
	for _, ignored := range w.ignore {
		if util.HasPathPrefix(path, ignored) || strings.HasPrefix(path, ignored) {
			return true
		}
	}

	base := filepath.Base(path)
	for _, g := range w.exclFiles {
		if g.Match(base) {
			return true
		}
	}
	if lang.Detect(path, "") != lang.Unknown {
		return false
	}
	for _, g := range w.include {
		if g.Match(base) {
			return false
		}
	}
	return true
}

// excludedPath checks every segment, so a file inside an excluded subtree
// is dropped even when its own directory was never registered.
func (w *Watcher) excludedPath(path string) bool {
	if len(w.exclDirs) == 0 {
		return false
	}
	for _, segment := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if segment == "" {
			continue
		}
		if w.excludedDir(segment) {
			return true
		}
	}
	return false
}

func (w *Watcher) excludedDir(base string) bool {
	for _, g := range w.exclDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) > 0 {
		sort.Strings(paths)
		w.onBurst(paths)
	}
}

// enqueueExisting schedules files already present in a directory created
// during the watch, such as an unpacked archive.
func (w *Watcher) enqueueExisting(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d == nil || d.IsDir() {
			return nil
		}
		if w.dropped(path) {
			return nil
		}
		w.schedule(path)
		return nil
	})
}
