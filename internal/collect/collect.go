// # internal/collect/collect.go
//
// File collection: walk the configured roots, prune excluded directories,
// filter files, then read the survivors in parallel. Output order is walk
// order, which is deterministic, so the batch layer can treat the slice
// position as the submission index.
package collect

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	errs "strata/internal/core/errors"
	"strata/internal/lang"
)

// sniffLen is how many leading bytes the binary probe inspects.
const sniffLen = 8000

// File is one collected source file with its content already in memory.
type File struct {
	Path         string
	Content      []byte
	LanguageHint string
}

// Options control one collection pass. Include patterns match the
// slash-separated path relative to the root, or the base name; a file
// matching an include pattern is collected even when its language is
// unknown. Exclude patterns match base names only, the dir set pruning
// whole subtrees during the walk.
type Options struct {
	Roots           []string
	Include         []string
	ExcludeDirs     []string
	ExcludeFiles    []string
	MaxFileBytes    int
	ReadParallelism int

	// Detection-table overrides, applied before the built-in tables.
	LanguageExts  map[string]string
	LanguageNames map[string]string
}

type Collector struct {
	opts      Options
	include   []glob.Glob
	exclDirs  []glob.Glob
	exclFiles []glob.Glob
}

func New(opts Options) (*Collector, error) {
	if len(opts.Roots) == 0 {
		opts.Roots = []string{"."}
	}
	if opts.ReadParallelism <= 0 {
		opts.ReadParallelism = runtime.NumCPU()
	}

	c := &Collector{opts: opts}
	var err error
	if c.include, err = compileAll(opts.Include, true); err != nil {
		return nil, errs.Wrap(err, errs.CodeCollect, "compile include patterns")
	}
	if c.exclDirs, err = compileAll(opts.ExcludeDirs, false); err != nil {
		return nil, errs.Wrap(err, errs.CodeCollect, "compile exclude dir patterns")
	}
	if c.exclFiles, err = compileAll(opts.ExcludeFiles, false); err != nil {
		return nil, errs.Wrap(err, errs.CodeCollect, "compile exclude file patterns")
	}
	return c, nil
}

func compileAll(patterns []string, pathSeparator bool) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		var g glob.Glob
		var err error
		if pathSeparator {
			g, err = glob.Compile(pattern, '/')
		} else {
			g, err = glob.Compile(pattern)
		}
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Collect walks every root and returns the readable source files. Per-file
// problems (unreadable, binary, oversized) drop that file with a log line;
// only a broken root fails the pass.
func (c *Collector) Collect(ctx context.Context) ([]File, error) {
	paths, err := c.walk(ctx)
	if err != nil {
		return nil, err
	}
	return c.read(ctx, paths)
}

type candidate struct {
	path string
	hint string
}

func (c *Collector) walk(ctx context.Context) ([]candidate, error) {
	var candidates []candidate
	seen := make(map[string]bool)

	for _, root := range uniqueRoots(c.opts.Roots) {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				return err
			}

			base := filepath.Base(path)
			if d.IsDir() {
				if path != root {
					for _, g := range c.exclDirs {
						if g.Match(base) {
							return filepath.SkipDir
						}
					}
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			for _, g := range c.exclFiles {
				if g.Match(base) {
					return nil
				}
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)

			hint := c.detect(path)
			if hint == lang.Unknown && !c.included(rel, base) {
				return nil
			}

			abs := path
			if a, absErr := filepath.Abs(path); absErr == nil {
				abs = a
			}
			if seen[abs] {
				return nil
			}
			seen[abs] = true

			candidates = append(candidates, candidate{path: path, hint: hint})
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, errs.Wrap(ctx.Err(), errs.CodeCancelled, "collection cancelled")
			}
			return nil, errs.AddContext(
				errs.Wrap(err, errs.CodeCollect, "walk root"), errs.CtxPath, root)
		}
	}
	return candidates, nil
}

func (c *Collector) included(rel, base string) bool {
	if len(c.include) == 0 {
		return false
	}
	for _, g := range c.include {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func (c *Collector) detect(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if l, ok := c.opts.LanguageNames[base]; ok {
		return l
	}
	ext := strings.ToLower(filepath.Ext(path))
	if l, ok := c.opts.LanguageExts[ext]; ok {
		return l
	}
	return lang.Detect(path, "")
}

// read loads candidate contents in parallel, preserving walk order.
func (c *Collector) read(ctx context.Context, candidates []candidate) ([]File, error) {
	loaded := make([][]byte, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ReadParallelism)
	for i, cand := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			loaded[i] = c.load(cand.path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.Wrap(err, errs.CodeCancelled, "collection cancelled")
	}

	files := make([]File, 0, len(candidates))
	for i, cand := range candidates {
		if loaded[i] == nil {
			continue
		}
		files = append(files, File{
			Path:         cand.path,
			Content:      loaded[i],
			LanguageHint: cand.hint,
		})
	}
	return files, nil
}

// load returns nil for files the batch should never see: unreadable,
// oversized, or binary.
func (c *Collector) load(path string) []byte {
	if c.opts.MaxFileBytes > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > int64(c.opts.MaxFileBytes) {
			slog.Debug("skipping oversized file", "path", path, "size", info.Size(), "limit", c.opts.MaxFileBytes)
			return nil
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read file", "path", path, "error", err)
		return nil
	}
	if isBinary(content) {
		slog.Debug("skipping binary file", "path", path)
		return nil
	}
	return sanitize(content)
}

func isBinary(content []byte) bool {
	probe := content
	if len(probe) > sniffLen {
		probe = probe[:sniffLen]
	}
	return bytes.IndexByte(probe, 0) != -1
}

// sanitize strips a UTF-8 BOM and replaces invalid byte sequences so every
// downstream consumer can assume valid UTF-8.
func sanitize(content []byte) []byte {
	content = bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})
	if len(content) == 0 {
		// nil is load's skip marker; an empty file is still a file.
		return []byte{}
	}
	return bytes.ToValidUTF8(content, []byte("�"))
}

func uniqueRoots(roots []string) []string {
	seen := make(map[string]bool, len(roots))
	unique := make([]string, 0, len(roots))
	for _, root := range roots {
		key := filepath.Clean(root)
		if abs, err := filepath.Abs(key); err == nil {
			key = abs
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, filepath.Clean(root))
	}
	sort.Strings(unique)
	return unique
}
