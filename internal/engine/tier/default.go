// # internal/engine/tier/default.go
package tier

import (
	"strata/internal/engine/query"
	"strata/internal/engine/tier/heuristic"
	"strata/internal/engine/tier/minimal"
	"strata/internal/engine/tier/structural"
)

// DefaultRegistry wires the standard cascade: a structural tier per
// grammar-backed language, heuristic and minimal fallbacks for every
// language. The query cache is owned by the caller, one per worker.
func DefaultRegistry(cache *query.Cache) *Registry {
	r := NewRegistry()
	engine := structural.NewEngine(cache)
	for _, language := range engine.Languages() {
		r.Register(language, structural.TierName, engine.For(language))
	}
	r.RegisterFallback(heuristic.TierName, func(language string) Tier {
		return heuristic.New(language)
	})
	r.RegisterFallback(minimal.TierName, func(language string) Tier {
		return minimal.New(language)
	})
	return r
}
