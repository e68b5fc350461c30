// # internal/engine/parse/types.go
package parse

import "bytes"

// DeclKind is the closed set of declaration categories. Grammar-specific
// node names are normalized into this set by the tiers.
type DeclKind int

const (
	KindFunction DeclKind = iota
	KindType
	KindContainer
	KindVariable
	KindOther
)

var kindNames = [...]string{
	KindFunction:  "function",
	KindType:      "type",
	KindContainer: "container",
	KindVariable:  "variable",
	KindOther:     "other",
}

func (k DeclKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "other"
	}
	return kindNames[k]
}

// KindFromName maps a wire name back to a DeclKind. Unknown names fold
// into KindOther rather than failing.
func KindFromName(name string) DeclKind {
	for k, n := range kindNames {
		if n == name {
			return DeclKind(k)
		}
	}
	return KindOther
}

// Quality grades a tier's output. Ordering is meaningful: minimal <
// partial < full.
type Quality int

const (
	QualityMinimal Quality = iota
	QualityPartial
	QualityFull
)

func (q Quality) String() string {
	switch q {
	case QualityFull:
		return "full"
	case QualityPartial:
		return "partial"
	default:
		return "minimal"
	}
}

// QualityFromName defaults to minimal for anything unrecognized, so a
// mangled wire record degrades instead of inflating its own grade.
func QualityFromName(name string) Quality {
	switch name {
	case "full":
		return QualityFull
	case "partial":
		return QualityPartial
	default:
		return QualityMinimal
	}
}

// Severity ranks security findings.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{
	SeverityInfo:     "INFO",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "INFO"
	}
	return severityNames[s]
}

func SeverityFromName(name string) (Severity, bool) {
	for s, n := range severityNames {
		if n == name {
			return Severity(s), true
		}
	}
	return SeverityInfo, false
}

func SeverityFromInt(v int) (Severity, bool) {
	if v < 0 || v >= len(severityNames) {
		return SeverityInfo, false
	}
	return Severity(v), true
}

// Declaration is a named structural unit found in source. Children are
// owned by the parent and must sit fully inside its line range.
type Declaration struct {
	Name      string
	Kind      DeclKind
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
	Signature string
	Doc       string
	Modifiers map[string]bool
	Children  []Declaration
}

// DeclKey is the identity used for duplicate detection across tiers.
type DeclKey struct {
	Name      string
	Kind      DeclKind
	StartLine int
}

func (d *Declaration) Key() DeclKey {
	return DeclKey{Name: d.Name, Kind: d.Kind, StartLine: d.StartLine}
}

// Complete reports whether the declaration carries any enrichment beyond
// its bare identity. Used by confidence scoring.
func (d *Declaration) Complete() bool {
	return d.Doc != "" || d.Signature != "" || len(d.Modifiers) > 0
}

// Modifiers builds a modifier set from names.
func Modifiers(names ...string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

type Import struct {
	RawText      string
	ResolvedName string
	Line         int
}

type SecurityIssue struct {
	Rule       string
	Severity   Severity
	Line       int
	Excerpt    string
	Confidence float64
}

// Result is the unit produced by one parser tier for one file. It is
// treated as immutable after construction; merging builds a new Result.
type Result struct {
	FilePath       string
	Language       string
	Declarations   []Declaration
	Imports        []Import
	MissedFeatures map[string]bool
	Quality        Quality
	Degraded       bool
	Error          string
	EngineUsed     string
	Confidence     float64
	SecurityIssues []SecurityIssue
	LineCount      int
}

// DeclCount is the top-level declaration count, the figure the cascade's
// early-termination policy inspects.
func (r *Result) DeclCount() int {
	return len(r.Declarations)
}

// CountLines counts newline-separated lines the way editors do: a final
// newline does not open another line, and empty content has zero.
func CountLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
