// # internal/engine/merge/merge.go
//
// Combines the per-tier results of one cascade into a single ParseResult.
// The merger never mutates its inputs; every strategy builds a fresh result.
package merge

import (
	"fmt"
	"sort"
	"strings"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
)

type Strategy string

const (
	ConfidenceWeighted Strategy = "confidence_weighted"
	Union              Strategy = "union"
	FastFail           Strategy = "fast_fail"
	BestOfBreed        Strategy = "best_of_breed"
)

const DefaultStrategy = ConfidenceWeighted

// damping applied to a declaration contributed by a weaker tier.
const contributionDamping = 0.8

// ParseStrategy validates a configured strategy name. An unknown name is a
// configuration error, fatal at construction time.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case ConfidenceWeighted, Union, FastFail, BestOfBreed:
		return Strategy(name), nil
	case "":
		return DefaultStrategy, nil
	}
	return "", errs.New(errs.CodeConfig, fmt.Sprintf("unknown merge strategy %q", name))
}

// Merge combines results from the tiers that ran on one file. Inputs are in
// cascade execution order. Error-bearing results are ignored unless every
// input carries one, in which case the one with the most declarations is
// returned as-is.
func Merge(results []*parse.Result, strategy Strategy) *parse.Result {
	if len(results) == 0 {
		return &parse.Result{Quality: parse.QualityMinimal}
	}
	if len(results) == 1 {
		return results[0]
	}

	valid := results[:0:0]
	for _, r := range results {
		if r.Error == "" {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		best := results[0]
		for _, r := range results[1:] {
			if r.DeclCount() > best.DeclCount() {
				best = r
			}
		}
		return best
	}
	if len(valid) == 1 {
		return valid[0]
	}

	switch strategy {
	case Union:
		return mergeUnion(valid)
	case FastFail:
		return mergeFastFail(valid)
	case BestOfBreed:
		return mergeBestOfBreed(valid)
	default:
		return mergeConfidenceWeighted(valid)
	}
}

func mergeConfidenceWeighted(valid []*parse.Result) *parse.Result {
	scored := make([]*parse.Result, len(valid))
	copy(scored, valid)
	sort.SliceStable(scored, func(i, j int) bool {
		return confidenceOf(scored[i]) > confidenceOf(scored[j])
	})
	base := scored[0]

	merged := newShell(base, valid)
	merged.Declarations = parse.CloneDeclarations(base.Declarations)
	merged.MissedFeatures = copySet(base.MissedFeatures)

	seen := make(map[parse.DeclKey]bool, len(merged.Declarations))
	for i := range merged.Declarations {
		seen[merged.Declarations[i].Key()] = true
	}

	otherBest := 0.0
	for _, r := range scored[1:] {
		if c := confidenceOf(r); c > otherBest {
			otherBest = c
		}
		for i := range r.Declarations {
			d := &r.Declarations[i]
			if seen[d.Key()] {
				continue
			}
			seen[d.Key()] = true
			merged.Declarations = append(merged.Declarations, parse.CloneDeclaration(*d))
			delete(merged.MissedFeatures, d.Kind.String())
		}
	}

	merged.Imports = unionImports(valid)
	merged.SecurityIssues = unionIssues(valid)
	merged.Confidence = confidenceOf(base)
	if damped := otherBest * contributionDamping; damped > merged.Confidence {
		merged.Confidence = damped
	}
	return merged
}

func mergeUnion(valid []*parse.Result) *parse.Result {
	merged := newShell(valid[0], valid)

	seen := make(map[parse.DeclKey]bool)
	for _, r := range valid {
		for i := range r.Declarations {
			key := r.Declarations[i].Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged.Declarations = append(merged.Declarations, parse.CloneDeclaration(r.Declarations[i]))
		}
	}
	sort.SliceStable(merged.Declarations, func(i, j int) bool {
		return merged.Declarations[i].StartLine < merged.Declarations[j].StartLine
	})

	// A feature counts as missed only when every tier missed it.
	missed := copySet(valid[0].MissedFeatures)
	for _, r := range valid[1:] {
		for f := range missed {
			if !r.MissedFeatures[f] {
				delete(missed, f)
			}
		}
	}
	merged.MissedFeatures = missed

	merged.Imports = unionImports(valid)
	merged.SecurityIssues = unionIssues(valid)
	merged.Confidence = maxConfidence(valid)
	return merged
}

func mergeFastFail(valid []*parse.Result) *parse.Result {
	for _, r := range valid {
		if r.Quality == parse.QualityFull {
			return r
		}
	}
	return mergeConfidenceWeighted(valid)
}

func mergeBestOfBreed(valid []*parse.Result) *parse.Result {
	merged := newShell(valid[0], valid)
	merged.MissedFeatures = copySet(valid[0].MissedFeatures)

	kinds := make(map[parse.DeclKind]bool)
	for _, r := range valid {
		for i := range r.Declarations {
			kinds[r.Declarations[i].Kind] = true
		}
	}

	seen := make(map[parse.DeclKey]bool)
	for kind := range kinds {
		source := breedSource(valid, merged.Language, kind)
		if source == nil {
			continue
		}
		for i := range source.Declarations {
			d := &source.Declarations[i]
			if d.Kind != kind || seen[d.Key()] {
				continue
			}
			seen[d.Key()] = true
			picked := parse.CloneDeclaration(*d)
			fillFields(&picked, valid, source)
			merged.Declarations = append(merged.Declarations, picked)
		}
	}
	sort.SliceStable(merged.Declarations, func(i, j int) bool {
		return merged.Declarations[i].StartLine < merged.Declarations[j].StartLine
	})

	merged.Imports = unionImports(valid)
	merged.SecurityIssues = unionIssues(valid)
	merged.Confidence = maxConfidence(valid)
	return merged
}

// fillFields completes a picked declaration with documentation, signature
// and modifiers another tier extracted for the same declaration.
func fillFields(picked *parse.Declaration, valid []*parse.Result, source *parse.Result) {
	key := picked.Key()
	for _, r := range valid {
		if r == source {
			continue
		}
		for i := range r.Declarations {
			d := &r.Declarations[i]
			if d.Key() != key {
				continue
			}
			if picked.Doc == "" && d.Doc != "" {
				picked.Doc = d.Doc
			}
			if picked.Signature == "" && d.Signature != "" {
				picked.Signature = d.Signature
			}
			if len(picked.Modifiers) == 0 && len(d.Modifiers) > 0 {
				mods := make(map[string]bool, len(d.Modifiers))
				for k, v := range d.Modifiers {
					mods[k] = v
				}
				picked.Modifiers = mods
			}
			if picked.EndLine < d.EndLine {
				picked.EndLine = d.EndLine
			}
		}
	}
}

// newShell carries the per-file fields every strategy shares and the joined
// engine trace.
func newShell(base *parse.Result, valid []*parse.Result) *parse.Result {
	merged := &parse.Result{
		FilePath: base.FilePath,
		Language: base.Language,
		Quality:  base.Quality,
	}
	names := make([]string, 0, len(valid))
	for _, r := range valid {
		if r.Quality > merged.Quality {
			merged.Quality = r.Quality
		}
		if r.Degraded {
			merged.Degraded = true
		}
		if r.LineCount > merged.LineCount {
			merged.LineCount = r.LineCount
		}
		if r.EngineUsed != "" && !contains(names, r.EngineUsed) {
			names = append(names, r.EngineUsed)
		}
	}
	merged.EngineUsed = strings.Join(names, ",")
	return merged
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func confidenceOf(r *parse.Result) float64 {
	if r.Confidence > 0 {
		return r.Confidence
	}
	return parse.ScoreConfidence(r)
}

func maxConfidence(valid []*parse.Result) float64 {
	best := 0.0
	for _, r := range valid {
		if c := confidenceOf(r); c > best {
			best = c
		}
	}
	return best
}

func copySet(src map[string]bool) map[string]bool {
	if src == nil {
		return nil
	}
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func unionImports(valid []*parse.Result) []parse.Import {
	var out []parse.Import
	seen := make(map[parse.Import]bool)
	for _, r := range valid {
		for _, imp := range r.Imports {
			if !seen[imp] {
				seen[imp] = true
				out = append(out, imp)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].RawText < out[j].RawText
	})
	return out
}

func unionIssues(valid []*parse.Result) []parse.SecurityIssue {
	var out []parse.SecurityIssue
	seen := make(map[parse.SecurityIssue]bool)
	for _, r := range valid {
		for _, issue := range r.SecurityIssues {
			if !seen[issue] {
				seen[issue] = true
				out = append(out, issue)
			}
		}
	}
	return out
}
