// # internal/engine/tier/registry.go
package tier

import (
	"sort"

	"strata/internal/engine/parse"
)

// Tier names in cascade priority order.
const (
	NameStructural = "structural"
	NameHeuristic  = "heuristic"
	NameMinimal    = "minimal"
)

// Order is the fixed execution order of the cascade.
var Order = []string{NameStructural, NameHeuristic, NameMinimal}

// Tier is one parsing engine bound to one language. Parse never fails on
// well-formed input; for input it cannot handle it returns the narrow
// tier-failed error class (errors.TierFailure) that the cascade recovers
// from. Any other error is a defect and propagates.
type Tier interface {
	Name() string
	Parse(content []byte, path string) (*parse.Result, error)
}

// Factory builds a tier bound to a language on demand, for tiers that
// accept any language.
type Factory func(language string) Tier

type Key struct {
	Language string
	TierName string
}

// Registry is the lookup table the cascade consults: exact
// (language, tier-name) entries first, then per-tier fallbacks that bind
// the requested language on the fly.
type Registry struct {
	exact    map[Key]Tier
	fallback map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[Key]Tier),
		fallback: make(map[string]Factory),
	}
}

func (r *Registry) Register(language, name string, t Tier) {
	r.exact[Key{Language: language, TierName: name}] = t
}

func (r *Registry) RegisterFallback(name string, f Factory) {
	r.fallback[name] = f
}

// TiersFor returns the tiers to try for a language, in cascade order.
// Languages nobody registered still get whatever fallbacks exist.
func (r *Registry) TiersFor(language string) []Tier {
	out := make([]Tier, 0, len(Order))
	for _, name := range Order {
		if t, ok := r.exact[Key{Language: language, TierName: name}]; ok {
			out = append(out, t)
			continue
		}
		if f, ok := r.fallback[name]; ok {
			out = append(out, f(language))
		}
	}
	return out
}

// Languages lists every language with at least one exact registration.
func (r *Registry) Languages() []string {
	set := make(map[string]bool)
	for k := range r.exact {
		set[k.Language] = true
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
