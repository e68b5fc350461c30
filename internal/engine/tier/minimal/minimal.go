// # internal/engine/tier/minimal/minimal.go
//
// Last-resort extraction: keyword openers and import prefixes, one line at
// a time. Never fails, never nests, reports minimal quality.
package minimal

import (
	"strings"

	"strata/internal/engine/parse"
)

const TierName = "minimal"

const maxSignatureLen = 160

var openerKinds = map[string]parse.DeclKind{
	"func":      parse.KindFunction,
	"fn":        parse.KindFunction,
	"function":  parse.KindFunction,
	"def":       parse.KindFunction,
	"sub":       parse.KindFunction,
	"class":     parse.KindContainer,
	"module":    parse.KindContainer,
	"impl":      parse.KindContainer,
	"namespace": parse.KindContainer,
	"type":      parse.KindType,
	"struct":    parse.KindType,
	"interface": parse.KindType,
	"enum":      parse.KindType,
	"trait":     parse.KindType,
}

var importPrefixes = []string{"import ", "from ", "use ", "require ", "require(", "#include ", "using "}

// skipWords are keywords that may precede an opener.
var skipWords = map[string]bool{
	"pub": true, "public": true, "private": true, "protected": true,
	"static": true, "export": true, "default": true, "async": true,
	"abstract": true, "final": true, "unsafe": true, "declare": true,
}

type Tier struct {
	language string
}

func New(language string) *Tier { return &Tier{language: language} }

func (t *Tier) Name() string { return TierName }

// Parse never returns an error; on arbitrary bytes it still produces a line
// count and whatever openers it recognizes.
func (t *Tier) Parse(content []byte, path string) (*parse.Result, error) {
	var decls []parse.Declaration
	var imports []parse.Import
	seen := make(map[parse.DeclKey]bool)

	for i, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if d, ok := declarationIn(trimmed, i+1); ok {
			if key := d.Key(); !seen[key] {
				seen[key] = true
				decls = append(decls, d)
			}
			continue
		}

		for _, prefix := range importPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				imports = append(imports, parse.Import{
					RawText:      trimmed,
					ResolvedName: importTarget(trimmed),
					Line:         i + 1,
				})
				break
			}
		}
	}

	res := &parse.Result{
		FilePath:     path,
		Language:     t.language,
		Declarations: decls,
		Imports:      imports,
		Quality:      parse.QualityMinimal,
		EngineUsed:   TierName,
		LineCount:    parse.CountLines(content),
		MissedFeatures: map[string]bool{
			"variable": true,
			"nesting":  true,
			"docs":     true,
		},
	}
	res.Confidence = parse.ScoreConfidence(res)
	return res, nil
}

func declarationIn(trimmed string, lineNo int) (parse.Declaration, bool) {
	fields := strings.Fields(trimmed)
	idx := 0
	for idx < len(fields) && skipWords[fields[idx]] {
		idx++
	}
	if idx >= len(fields)-1 {
		return parse.Declaration{}, false
	}
	kind, ok := openerKinds[fields[idx]]
	if !ok {
		return parse.Declaration{}, false
	}

	name := fields[idx+1]
	// Go methods: skip the receiver parenthetical.
	if strings.HasPrefix(name, "(") {
		rest := trimmed[strings.Index(trimmed, ")")+1:]
		name = strings.TrimSpace(rest)
		if name == "" {
			return parse.Declaration{}, false
		}
		if sp := strings.IndexAny(name, " \t"); sp >= 0 {
			name = name[:sp]
		}
	}
	name = trimName(name)
	if name == "" {
		return parse.Declaration{}, false
	}

	sig := trimmed
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	return parse.Declaration{
		Name:      name,
		Kind:      kind,
		StartLine: lineNo,
		EndLine:   lineNo,
		Signature: strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(sig, "{")), ":"),
	}, true
}

// trimName strips the punctuation that rides along with an identifier in a
// single-line scan.
func trimName(name string) string {
	if i := strings.IndexAny(name, "(<:{;="); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

func importTarget(trimmed string) string {
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return ""
	}
	target := fields[1]
	target = strings.Trim(target, `"'<>();`)
	return strings.TrimSuffix(target, ";")
}
