// # internal/engine/tier/heuristic/patterns.go
package heuristic

import (
	"regexp"

	"strata/internal/engine/parse"
	"strata/internal/lang"
)

// rule matches one declaration form at the start of a line. Every pattern
// carries a (?P<name>...) group.
type rule struct {
	re   *regexp.Regexp
	kind parse.DeclKind
}

// profile is the per-language pattern table. missed names the declaration
// kinds the table has no rule for, so downstream merging knows what a
// structural pass could still contribute.
type profile struct {
	rules        []rule
	imports      []*regexp.Regexp
	lineComment  string
	indentBlocks bool
	modifiers    []string
	missed       []string
}

const ident = `[A-Za-z_][A-Za-z0-9_]*`

var (
	goProfile = &profile{
		rules: []rule{
			{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?(?P<name>` + ident + `)\s*\(`), parse.KindFunction},
			{regexp.MustCompile(`^type\s+(?P<name>` + ident + `)\s`), parse.KindType},
			{regexp.MustCompile(`^(?:const|var)\s+(?P<name>` + ident + `)(?:\s|=|$)`), parse.KindVariable},
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^import\s+(?:` + ident + `\s+)?"(?P<path>[^"]+)"`),
		},
		lineComment: "//",
		missed:      []string{"container"},
	}

	pythonProfile = &profile{
		rules: []rule{
			{regexp.MustCompile(`^\s*(?:async\s+)?def\s+(?P<name>` + ident + `)\s*\(`), parse.KindFunction},
			{regexp.MustCompile(`^\s*class\s+(?P<name>` + ident + `)\s*[(:]`), parse.KindContainer},
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^\s*import\s+(?P<path>[\w.]+)`),
			regexp.MustCompile(`^\s*from\s+(?P<path>[\w.]+)\s+import\s`),
		},
		lineComment:  "#",
		indentBlocks: true,
		modifiers:    []string{"async"},
		missed:       []string{"variable"},
	}

	jsProfile = &profile{
		rules: []rule{
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(?P<name>` + ident + `)\s*\(`), parse.KindFunction},
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(?P<name>` + ident + `)`), parse.KindContainer},
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(?P<name>` + ident + `)\s*=\s*(?:async\s+)?(?:\([^)]*\)|` + ident + `)\s*=>`), parse.KindFunction},
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(?P<name>` + ident + `)\s*=`), parse.KindVariable},
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^\s*import\b.*?from\s+['"](?P<path>[^'"]+)['"]`),
			regexp.MustCompile(`^\s*import\s+['"](?P<path>[^'"]+)['"]`),
			regexp.MustCompile(`\brequire\s*\(\s*['"](?P<path>[^'"]+)['"]\s*\)`),
		},
		lineComment: "//",
		modifiers:   []string{"async", "static", "export", "default"},
		missed:      []string{"type"},
	}

	tsProfile = &profile{
		rules: append([]rule{
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:declare\s+)?(?:interface|enum)\s+(?P<name>` + ident + `)`), parse.KindType},
			{regexp.MustCompile(`^\s*(?:export\s+)?type\s+(?P<name>` + ident + `)\s*=`), parse.KindType},
		}, jsProfile.rules...),
		imports:     jsProfile.imports,
		lineComment: "//",
		modifiers:   []string{"async", "static", "export", "abstract", "readonly", "private", "public", "protected"},
	}

	rustProfile = &profile{
		rules: []rule{
			{regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+(?P<name>` + ident + `)`), parse.KindFunction},
			{regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum|trait|union)\s+(?P<name>` + ident + `)`), parse.KindType},
			{regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?mod\s+(?P<name>` + ident + `)`), parse.KindContainer},
			{regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:const|static)\s+(?P<name>` + ident + `)\s*:`), parse.KindVariable},
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^\s*(?:pub\s+)?use\s+(?P<path>[^;]+);`),
		},
		lineComment: "//",
		modifiers:   []string{"pub", "async", "unsafe"},
	}

	javaProfile = &profile{
		rules: []rule{
			{regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|abstract|sealed)\s+)*(?:class|record)\s+(?P<name>` + ident + `)`), parse.KindContainer},
			{regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|abstract|sealed)\s+)*(?:interface|enum)\s+(?P<name>` + ident + `)`), parse.KindType},
			{regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|abstract|synchronized|native)\s+)+[\w<>\[\],\s]+?\s(?P<name>` + ident + `)\s*\([^;]*$`), parse.KindFunction},
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^\s*import\s+(?:static\s+)?(?P<path>[\w.*]+);`),
		},
		lineComment: "//",
		modifiers:   []string{"public", "private", "protected", "static", "final", "abstract"},
		missed:      []string{"variable"},
	}

	genericProfile = &profile{
		rules: []rule{
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?(?:function|func|fn|def|sub|fun)\s+(?P<name>` + ident + `)`), parse.KindFunction},
			{regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|abstract)\s+)*(?:class|struct|module)\s+(?P<name>` + ident + `)`), parse.KindContainer},
		},
		lineComment: "//",
		missed:      []string{"type", "variable"},
	}

	profiles = map[string]*profile{
		lang.Go:         goProfile,
		lang.Python:     pythonProfile,
		lang.JavaScript: jsProfile,
		lang.TypeScript: tsProfile,
		lang.TSX:        tsProfile,
		lang.Rust:       rustProfile,
		lang.Java:       javaProfile,
	}
)

func profileFor(language string) *profile {
	if p, ok := profiles[language]; ok {
		return p
	}
	return genericProfile
}
