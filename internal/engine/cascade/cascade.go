// # internal/engine/cascade/cascade.go
//
// Tiered parsing: structural first, weaker tiers after, one result per tier
// that ran. A recoverable tier failure becomes an error-bearing result and
// the next tier gets its chance.
package cascade

import (
	"bytes"
	"fmt"
	"log/slog"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
	"strata/internal/engine/tier"
)

const DefaultEarlyTerminationThreshold = 5

type Options struct {
	// EarlyTermination stops the cascade once the best result so far has
	// more than Threshold declarations at full quality.
	EarlyTermination bool
	Threshold        int
	// MaxFileBytes short-circuits files larger than this to a line-count
	// only result. Zero means no limit.
	MaxFileBytes int
}

type Controller struct {
	registry *tier.Registry
	opts     Options
}

func New(registry *tier.Registry, opts Options) *Controller {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultEarlyTerminationThreshold
	}
	return &Controller{registry: registry, opts: opts}
}

// Run executes the cascade for one file. The returned slice is never empty
// and holds one entry per tier executed, in execution order. Tiers all see
// the same content slice and must not modify it.
//
// A tier failure (the narrow class built by errors.TierFailure) becomes an
// error-bearing result and the cascade continues. Any other error from a
// tier is a defect and aborts the call.
func (c *Controller) Run(content []byte, path, language string) ([]*parse.Result, error) {
	if c.opts.MaxFileBytes > 0 && len(content) > c.opts.MaxFileBytes {
		slog.Debug("file exceeds size limit, skipping parse tiers",
			"path", path, "size", len(content), "limit", c.opts.MaxFileBytes)
		return []*parse.Result{oversizeResult(content, path, language)}, nil
	}

	tiers := c.registry.TiersFor(language)
	if len(tiers) == 0 {
		r := failureResult(tier.NameMinimal, content, path, language,
			errs.New(errs.CodeAllTiersFailed, fmt.Sprintf("no tiers registered for language %q", language)))
		return []*parse.Result{r}, nil
	}

	emptyInput := len(bytes.TrimSpace(content)) == 0

	var results []*parse.Result
	var best *parse.Result
	for _, t := range tiers {
		res, err := invoke(t, content, path)
		if err != nil {
			if !errs.IsTierFailure(err) {
				return nil, errs.Wrap(err, errs.CodeInternal, "parse tier defect")
			}
			slog.Debug("parse tier failed", "tier", t.Name(), "path", path, "error", err)
			res = failureResult(t.Name(), content, path, language, err)
		}
		if res.Language == "" {
			res.Language = language
		}
		results = append(results, res)

		if res.Error == "" && (best == nil || res.DeclCount() > best.DeclCount()) {
			best = res
		}
		if best == nil {
			continue
		}
		if emptyInput && best.Quality == parse.QualityFull {
			break
		}
		if c.opts.EarlyTermination &&
			best.DeclCount() > c.opts.Threshold &&
			best.Quality == parse.QualityFull {
			slog.Debug("early termination",
				"path", path, "tier", t.Name(), "declarations", best.DeclCount())
			break
		}
	}
	return results, nil
}

// AllFailed reports whether every tier produced an error-bearing result.
func AllFailed(results []*parse.Result) bool {
	for _, r := range results {
		if r.Error == "" {
			return false
		}
	}
	return len(results) > 0
}

func invoke(t tier.Tier, content []byte, path string) (*parse.Result, error) {
	res, err := t.Parse(content, path)
	if err == nil && res == nil {
		err = errs.TierFailure(t.Name(), "tier returned no result", nil)
	}
	return res, err
}

func failureResult(tierName string, content []byte, path, language string, err error) *parse.Result {
	return &parse.Result{
		FilePath:   path,
		Language:   language,
		Quality:    parse.QualityMinimal,
		Error:      err.Error(),
		EngineUsed: tierName,
		Confidence: 0.0,
		LineCount:  parse.CountLines(content),
	}
}

func oversizeResult(content []byte, path, language string) *parse.Result {
	res := &parse.Result{
		FilePath:       path,
		Language:       language,
		Quality:        parse.QualityMinimal,
		EngineUsed:     tier.NameMinimal,
		MissedFeatures: map[string]bool{"all": true},
		LineCount:      parse.CountLines(content),
	}
	res.Confidence = parse.ScoreConfidence(res)
	return res
}
