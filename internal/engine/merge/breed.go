// # internal/engine/merge/breed.go
package merge

import (
	"strata/internal/engine/parse"
	"strata/internal/engine/tier"
	"strata/internal/lang"
)

// breedDefault names the tier trusted most per declaration kind. Structural
// wins everywhere the grammar covers the kind; overrides mark the spots
// where the pattern pass sees syntax the pinned grammars miss.
var breedDefault = map[parse.DeclKind]string{
	parse.KindFunction:  tier.NameStructural,
	parse.KindType:      tier.NameStructural,
	parse.KindContainer: tier.NameStructural,
	parse.KindVariable:  tier.NameStructural,
	parse.KindOther:     tier.NameStructural,
}

var breedOverrides = map[string]map[parse.DeclKind]string{
	lang.TypeScript: {parse.KindType: tier.NameHeuristic},
	lang.TSX:        {parse.KindType: tier.NameHeuristic},
	lang.JavaScript: {parse.KindVariable: tier.NameHeuristic},
}

func preferredTier(language string, kind parse.DeclKind) string {
	if o, ok := breedOverrides[language]; ok {
		if name, ok := o[kind]; ok {
			return name
		}
	}
	return breedDefault[kind]
}

// breedSource picks the result supplying declarations of one kind: the
// preferred tier when it extracted any, then the strongest remaining tier,
// then whichever result has the kind at all.
func breedSource(valid []*parse.Result, language string, kind parse.DeclKind) *parse.Result {
	want := preferredTier(language, kind)
	for _, r := range valid {
		if r.EngineUsed == want && hasKind(r, kind) {
			return r
		}
	}
	for _, name := range tier.Order {
		if name == want {
			continue
		}
		for _, r := range valid {
			if r.EngineUsed == name && hasKind(r, kind) {
				return r
			}
		}
	}
	for _, r := range valid {
		if hasKind(r, kind) {
			return r
		}
	}
	return nil
}

func hasKind(r *parse.Result, kind parse.DeclKind) bool {
	for i := range r.Declarations {
		if r.Declarations[i].Kind == kind {
			return true
		}
	}
	return false
}
