// # internal/engine/tier/structural/structural.go
package structural

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
	"strata/internal/engine/query"
	"strata/internal/lang"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

const TierName = "structural"

const maxSignatureLen = 160

// Engine holds the grammar table, per-language parser pools and the
// worker's compiled-query cache. One Engine exists per worker; For binds
// it to a language as a Tier.
type Engine struct {
	grammars map[string]*sitter.Language
	pools    map[string]*parserPool
	cache    *query.Cache
}

func NewEngine(cache *query.Cache) *Engine {
	grammars := loadGrammars()
	pools := make(map[string]*parserPool, len(grammars))
	for name, g := range grammars {
		pools[name] = newParserPool(g)
	}
	return &Engine{grammars: grammars, pools: pools, cache: cache}
}

// Languages lists the grammar-backed language names.
func (e *Engine) Languages() []string {
	out := make([]string, 0, len(e.grammars))
	for name := range e.grammars {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// For binds the engine to one language.
func (e *Engine) For(language string) *LanguageTier {
	return &LanguageTier{language: language, engine: e}
}

// Close releases every cached query handle. Called on worker shutdown.
func (e *Engine) Close() {
	e.cache.Purge()
}

type LanguageTier struct {
	language string
	engine   *Engine
}

func (t *LanguageTier) Name() string { return TierName }

func (t *LanguageTier) Parse(content []byte, path string) (*parse.Result, error) {
	return t.engine.parseFile(t.language, content, path)
}

func (e *Engine) parseFile(language string, content []byte, path string) (*parse.Result, error) {
	grammar, ok := e.grammars[language]
	if !ok {
		return nil, errs.TierFailure(TierName, fmt.Sprintf("no grammar for language %q", language), nil)
	}
	qs := queries[language]

	pool := e.pools[language]
	sp := pool.get()
	defer pool.put(sp)

	tree := sp.Parse(content, nil)
	if tree == nil {
		return nil, errs.TierFailure(TierName, "parser produced no tree", nil)
	}
	defer tree.Close()

	root := tree.RootNode()
	degraded := root.HasError()

	declQuery, err := e.compiled(grammar, language, queryDeclarations, qs.decls)
	if err != nil {
		return nil, errs.TierFailure(TierName, "declaration query rejected by grammar", err)
	}
	decls := e.extractDeclarations(declQuery, root, content, language)

	var imports []parse.Import
	if qs.imports != "" {
		importQuery, err := e.compiled(grammar, language, queryImports, qs.imports)
		if err != nil {
			return nil, errs.TierFailure(TierName, "import query rejected by grammar", err)
		}
		imports = extractImports(importQuery, root, content, language)
	}

	res := &parse.Result{
		FilePath:     path,
		Language:     language,
		Declarations: decls,
		Imports:      imports,
		EngineUsed:   TierName,
		Quality:      parse.QualityFull,
		LineCount:    parse.CountLines(content),
	}
	if degraded {
		res.Quality = parse.QualityPartial
		res.Degraded = true
		res.MissedFeatures = map[string]bool{"error_recovery": true}
	}
	res.Confidence = parse.ScoreConfidence(res)
	return res, nil
}

func (e *Engine) compiled(grammar *sitter.Language, language, name, source string) (*sitter.Query, error) {
	handle, err := e.cache.GetOrCompile(language, name, func() (query.Compiled, error) {
		q, qerr := sitter.NewQuery(grammar, source)
		if qerr != nil {
			return nil, fmt.Errorf("compile query %s/%s: %v", language, name, qerr)
		}
		if q == nil {
			return nil, fmt.Errorf("compile query %s/%s: no query produced", language, name)
		}
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return handle.(*sitter.Query), nil
}

type capturedDecl struct {
	decl      parse.Declaration
	startByte uint
	endByte   uint
}

func (e *Engine) extractDeclarations(q *sitter.Query, root *sitter.Node, content []byte, language string) []parse.Declaration {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()

	names := q.CaptureNames()
	matches := cursor.Matches(q, root, content)

	var found []capturedDecl
	seen := make(map[parse.DeclKey]bool)

	for {
		m := matches.Next()
		if m == nil {
			break
		}

		var declNode *sitter.Node
		var kind parse.DeclKind
		nameText := ""
		for i := range m.Captures {
			node := m.Captures[i].Node
			switch capName := names[m.Captures[i].Index]; capName {
			case "name":
				nameText = nodeText(&node, content)
			default:
				n := node
				declNode = &n
				kind = parse.KindFromName(capName)
			}
		}
		if declNode == nil {
			continue
		}

		startLine := int(declNode.StartPosition().Row) + 1
		endLine := int(declNode.EndPosition().Row) + 1
		if endLine < startLine {
			endLine = startLine
		}
		sig := signatureOf(declNode, content)
		if nameText == "" {
			nameText = nameFromSignature(sig)
		}

		d := parse.Declaration{
			Name:      strings.TrimSpace(nameText),
			Kind:      kind,
			StartLine: startLine,
			EndLine:   endLine,
			Signature: sig,
			Doc:       documentationFor(declNode, content, language),
			Modifiers: modifiersFor(declNode, content, language, nameText),
		}
		if d.Name == "" {
			continue
		}
		if key := d.Key(); !seen[key] {
			seen[key] = true
			found = append(found, capturedDecl{decl: d, startByte: declNode.StartByte(), endByte: declNode.EndByte()})
		}
	}

	return nestDeclarations(found)
}

// nestDeclarations rebuilds the scope tree from flat byte ranges using an
// explicit stack: a declaration strictly contained in the previous open
// range becomes its child.
func nestDeclarations(found []capturedDecl) []parse.Declaration {
	if len(found) == 0 {
		return nil
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].startByte != found[j].startByte {
			return found[i].startByte < found[j].startByte
		}
		return found[i].endByte > found[j].endByte
	})

	var roots []parse.Declaration
	type frame struct {
		d          parse.Declaration
		start, end uint
	}
	var stack []frame

	flushTop := func() {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(stack) > 0 {
			parent := &stack[len(stack)-1].d
			parent.Children = append(parent.Children, top.d)
		} else {
			roots = append(roots, top.d)
		}
	}

	for _, c := range found {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			inside := c.startByte >= top.start && c.endByte <= top.end
			same := c.startByte == top.start && c.endByte == top.end
			if inside && !same {
				break
			}
			flushTop()
		}
		stack = append(stack, frame{d: c.decl, start: c.startByte, end: c.endByte})
	}
	for len(stack) > 0 {
		flushTop()
	}
	return roots
}

func extractImports(q *sitter.Query, root *sitter.Node, content []byte, language string) []parse.Import {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()

	names := q.CaptureNames()
	matches := cursor.Matches(q, root, content)

	var out []parse.Import
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		var importNode *sitter.Node
		pathText := ""
		for i := range m.Captures {
			node := m.Captures[i].Node
			switch names[m.Captures[i].Index] {
			case "path":
				pathText = strings.Trim(nodeText(&node, content), "`\"'")
			case "import":
				n := node
				importNode = &n
			}
		}
		if importNode == nil {
			continue
		}
		raw := firstLine(nodeText(importNode, content))
		out = append(out, parse.Import{
			RawText:      raw,
			ResolvedName: resolveImport(language, raw, pathText),
			Line:         int(importNode.StartPosition().Row) + 1,
		})
	}
	return out
}

func resolveImport(language, raw, pathText string) string {
	if pathText != "" {
		return pathText
	}
	switch language {
	case lang.Python:
		fields := strings.Fields(raw)
		if len(fields) >= 2 && (fields[0] == "import" || fields[0] == "from") {
			return strings.TrimSuffix(fields[1], ",")
		}
	case lang.JavaScript, lang.TypeScript, lang.TSX, lang.CSS:
		return quotedIn(raw)
	case lang.Rust:
		body := strings.TrimPrefix(raw, "pub ")
		body = strings.TrimPrefix(body, "use ")
		return strings.TrimSuffix(strings.TrimSpace(body), ";")
	case lang.Java:
		body := strings.TrimPrefix(raw, "import ")
		body = strings.TrimPrefix(body, "static ")
		return strings.TrimSuffix(strings.TrimSpace(body), ";")
	}
	return ""
}

// quotedIn returns the contents of the first quoted span in s.
func quotedIn(s string) string {
	for _, quote := range []byte{'\'', '"'} {
		if i := strings.IndexByte(s, quote); i >= 0 {
			if j := strings.IndexByte(s[i+1:], quote); j >= 0 {
				return s[i+1 : i+1+j]
			}
		}
	}
	return ""
}

func nodeText(n *sitter.Node, content []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if start >= end || int(end) > len(content) {
		return ""
	}
	return string(content[start:end])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func signatureOf(n *sitter.Node, content []byte) string {
	sig := firstLine(nodeText(n, content))
	sig = strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(sig, "{")), ":")
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	return sig
}

// nameFromSignature covers captures with no name node, like CSS at-rules:
// the text before the block open brace stands in.
func nameFromSignature(sig string) string {
	if i := strings.IndexByte(sig, '{'); i >= 0 {
		sig = sig[:i]
	}
	return strings.TrimSpace(sig)
}

// documentationFor pulls the python docstring or the contiguous comment
// block sitting directly above the declaration.
func documentationFor(n *sitter.Node, content []byte, language string) string {
	if language == lang.Python {
		return pythonDocstring(n, content)
	}
	return precedingComments(n, content)
}

func pythonDocstring(n *sitter.Node, content []byte) string {
	kind := n.Kind()
	if kind != "function_definition" && kind != "class_definition" {
		return ""
	}
	body := n.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first == nil || first.Kind() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str == nil || str.Kind() != "string" {
		return ""
	}
	doc := nodeText(str, content)
	doc = strings.Trim(doc, "\"'")
	return strings.TrimSpace(doc)
}

func precedingComments(n *sitter.Node, content []byte) string {
	var parts []string
	expect := int(n.StartPosition().Row)
	for prev := n.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		if !strings.Contains(prev.Kind(), "comment") {
			break
		}
		endRow := int(prev.EndPosition().Row)
		if endRow < expect-1 {
			break
		}
		parts = append([]string{cleanComment(nodeText(prev, content))}, parts...)
		expect = int(prev.StartPosition().Row)
	}
	return strings.Join(parts, "\n")
}

func cleanComment(s string) string {
	s = strings.TrimPrefix(s, "/*")
	s = strings.TrimSuffix(s, "*/")
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "#")
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var modifierWords = map[string]string{
	"async":     "async",
	"static":    "static",
	"export":    "export",
	"public":    "public",
	"private":   "private",
	"protected": "protected",
	"abstract":  "abstract",
	"readonly":  "readonly",
	"unsafe":    "unsafe",
	"final":     "final",
	"override":  "override",
}

func modifiersFor(n *sitter.Node, content []byte, language, name string) map[string]bool {
	mods := make(map[string]bool)
	switch language {
	case lang.Go:
		if r, _ := utf8.DecodeRuneInString(name); unicode.IsUpper(r) {
			mods["public"] = true
		}
	case lang.Python:
		if p := n.Parent(); p != nil && p.Kind() == "decorated_definition" {
			mods["decorated"] = true
		}
		if strings.HasPrefix(nodeText(n, content), "async ") {
			mods["async"] = true
		}
	default:
		head := firstLine(nodeText(n, content))
		if i := strings.IndexByte(head, '('); i >= 0 {
			head = head[:i]
		}
		for _, word := range strings.Fields(head) {
			if m, ok := modifierWords[word]; ok {
				mods[m] = true
			} else if strings.HasPrefix(word, "pub") && language == lang.Rust {
				mods["public"] = true
			}
		}
	}
	if len(mods) == 0 {
		return nil
	}
	return mods
}
