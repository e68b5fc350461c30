package cascade

import (
	"errors"
	"fmt"
	"testing"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
	"strata/internal/engine/tier"
)

type fakeTier struct {
	name   string
	result *parse.Result
	err    error
	calls  int
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Parse(content []byte, path string) (*parse.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.result.Clone()
	r.FilePath = path
	return r, nil
}

func resultWith(n int, q parse.Quality, engine string) *parse.Result {
	r := &parse.Result{Quality: q, EngineUsed: engine}
	for i := 0; i < n; i++ {
		r.Declarations = append(r.Declarations, parse.Declaration{
			Name:      fmt.Sprintf("decl%d", i),
			Kind:      parse.KindFunction,
			StartLine: i + 1,
			EndLine:   i + 1,
		})
	}
	return r
}

func registryOf(structural, heuristic, minimal tier.Tier) *tier.Registry {
	r := tier.NewRegistry()
	r.Register("x", tier.NameStructural, structural)
	r.Register("x", tier.NameHeuristic, heuristic)
	r.Register("x", tier.NameMinimal, minimal)
	return r
}

func TestRunsTiersInPriorityOrder(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, result: resultWith(1, parse.QualityFull, "structural")}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(1, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(1, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{})
	results, err := c.Run([]byte("content"), "a.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("want one result per tier, got %d", len(results))
	}
	order := []string{results[0].EngineUsed, results[1].EngineUsed, results[2].EngineUsed}
	if order[0] != "structural" || order[1] != "heuristic" || order[2] != "minimal" {
		t.Errorf("execution order = %v", order)
	}
}

func TestEarlyTerminationSkipsWeakerTiers(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, result: resultWith(6, parse.QualityFull, "structural")}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(1, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(1, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{EarlyTermination: true, Threshold: 5})
	results, err := c.Run([]byte("content"), "a.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("want single result, got %d", len(results))
	}
	if h.calls != 0 || m.calls != 0 {
		t.Errorf("weaker tiers ran: heuristic=%d minimal=%d", h.calls, m.calls)
	}
}

func TestEarlyTerminationThresholdIsStrict(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, result: resultWith(5, parse.QualityFull, "structural")}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(0, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(0, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{EarlyTermination: true, Threshold: 5})
	results, err := c.Run([]byte("content"), "a.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("exactly threshold declarations must not terminate, got %d results", len(results))
	}
}

func TestEarlyTerminationRequiresFullQuality(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, result: resultWith(10, parse.QualityPartial, "structural")}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(2, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(1, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{EarlyTermination: true, Threshold: 5})
	results, err := c.Run([]byte("content"), "a.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("partial quality must not terminate, got %d results", len(results))
	}
}

func TestTierFailureBecomesResultAndCascadeContinues(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, err: errs.TierFailure(tier.NameStructural, "no grammar", nil)}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(2, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(1, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{})
	results, err := c.Run([]byte("line one\nline two"), "a.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("want 3 results, got %d", len(results))
	}
	failed := results[0]
	if failed.Error == "" || failed.Quality != parse.QualityMinimal || failed.Confidence != 0.0 {
		t.Errorf("failure result = %+v", failed)
	}
	if failed.LineCount != 2 {
		t.Errorf("failure result line count = %d", failed.LineCount)
	}
	if results[1].EngineUsed != "heuristic" {
		t.Errorf("cascade did not continue: %+v", results[1])
	}
}

func TestDefectErrorAbortsCascade(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, err: errors.New("index out of range")}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(2, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(1, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{})
	results, err := c.Run([]byte("content"), "a.x", "x")
	if err == nil {
		t.Fatalf("defect should abort, got %d results", len(results))
	}
	if !errs.IsCode(err, errs.CodeInternal) {
		t.Errorf("error code = %v", err)
	}
	if h.calls != 0 {
		t.Errorf("cascade kept running after a defect")
	}
}

func TestOversizeFileShortCircuits(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, result: resultWith(1, parse.QualityFull, "structural")}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(1, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(1, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{MaxFileBytes: 8})
	results, err := c.Run([]byte("0123456789\nmore"), "big.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("want single short-circuit result, got %d", len(results))
	}
	r := results[0]
	if !r.MissedFeatures["all"] || r.Quality != parse.QualityMinimal {
		t.Errorf("oversize result = %+v", r)
	}
	if r.LineCount != 2 {
		t.Errorf("line count = %d", r.LineCount)
	}
	if s.calls+h.calls+m.calls != 0 {
		t.Errorf("tiers ran for oversize file")
	}
}

func TestEmptyFileStopsAfterStructural(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, result: resultWith(0, parse.QualityFull, "structural")}
	h := &fakeTier{name: tier.NameHeuristic, result: resultWith(0, parse.QualityPartial, "heuristic")}
	m := &fakeTier{name: tier.NameMinimal, result: resultWith(0, parse.QualityMinimal, "minimal")}

	c := New(registryOf(s, h, m), Options{})
	results, err := c.Run([]byte("  \n\t\n"), "empty.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("empty file should not fall back, got %d results", len(results))
	}
	if h.calls != 0 || m.calls != 0 {
		t.Errorf("fallback tiers ran for empty file")
	}
}

func TestAllFailed(t *testing.T) {
	s := &fakeTier{name: tier.NameStructural, err: errs.TierFailure(tier.NameStructural, "bad", nil)}
	h := &fakeTier{name: tier.NameHeuristic, err: errs.TierFailure(tier.NameHeuristic, "bad", nil)}
	m := &fakeTier{name: tier.NameMinimal, err: errs.TierFailure(tier.NameMinimal, "bad", nil)}

	c := New(registryOf(s, h, m), Options{})
	results, err := c.Run([]byte("content"), "a.x", "x")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !AllFailed(results) {
		t.Errorf("all tiers errored but AllFailed is false")
	}

	ok := []*parse.Result{{Error: "x"}, {}}
	if AllFailed(ok) {
		t.Errorf("one clean result should clear AllFailed")
	}
	if AllFailed(nil) {
		t.Errorf("empty result set is not a failure set")
	}
}
