// # internal/engine/parse/confidence.go
package parse

import "math"

// ScoreConfidence rates a result in [0, 1] from its own shape: parse
// quality, declaration volume (square-root damped so large files do not
// dominate), enrichment completeness, imports found, and a penalty per
// missed feature. A result carrying an error is pinned low regardless.
func ScoreConfidence(r *Result) float64 {
	if r.Error != "" {
		return 0.3
	}

	score := 0.0

	switch r.Quality {
	case QualityFull:
		score += 0.4
	case QualityPartial:
		score += 0.25
	case QualityMinimal:
		score += 0.15
	default:
		score += 0.1
	}

	if n := len(r.Declarations); n > 0 {
		score += math.Min(0.3, 0.05*math.Sqrt(float64(n)))

		complete := 0
		for i := range r.Declarations {
			if r.Declarations[i].Complete() {
				complete++
			}
		}
		score += 0.2 * float64(complete) / float64(n)
	}

	if n := len(r.Imports); n > 0 {
		score += math.Min(0.1, 0.01*float64(n))
	}

	if n := len(r.MissedFeatures); n > 0 {
		score -= math.Min(0.15, 0.03*float64(n))
	}

	return math.Max(0.0, math.Min(1.0, score))
}
