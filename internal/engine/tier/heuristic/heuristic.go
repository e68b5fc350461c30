// # internal/engine/tier/heuristic/heuristic.go
//
// Pattern-based extraction for source the structural tier could not parse.
// Matches declaration openers line by line, recovers block extents by brace
// counting or indentation, and reports everything at partial quality.
package heuristic

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf8"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
	"strata/internal/lang"
)

const TierName = "heuristic"

const maxSignatureLen = 160

type Tier struct {
	language string
	prof     *profile
}

func New(language string) *Tier {
	return &Tier{language: language, prof: profileFor(language)}
}

func (t *Tier) Name() string { return TierName }

func (t *Tier) Parse(content []byte, path string) (*parse.Result, error) {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return nil, errs.TierFailure(TierName, "content is not text", nil)
	}

	lines := strings.Split(string(content), "\n")
	decls := t.scanDeclarations(lines)
	imports := t.scanImports(lines)

	res := &parse.Result{
		FilePath:     path,
		Language:     t.language,
		Declarations: decls,
		Imports:      imports,
		Quality:      parse.QualityPartial,
		EngineUsed:   TierName,
		LineCount:    parse.CountLines(content),
	}
	if len(t.prof.missed) > 0 {
		res.MissedFeatures = make(map[string]bool, len(t.prof.missed))
		for _, f := range t.prof.missed {
			res.MissedFeatures[f] = true
		}
	}
	res.Confidence = parse.ScoreConfidence(res)
	return res, nil
}

type lineSpan struct {
	decl       parse.Declaration
	start, end int
}

func (t *Tier) scanDeclarations(lines []string) []parse.Declaration {
	var found []lineSpan
	seen := make(map[parse.DeclKey]bool)
	inBlockComment := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if inBlockComment {
			if strings.Contains(trimmed, "*/") {
				inBlockComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "/*") && !strings.Contains(trimmed, "*/") {
			inBlockComment = true
			continue
		}
		if t.prof.lineComment != "" && strings.HasPrefix(trimmed, t.prof.lineComment) {
			continue
		}

		for _, r := range t.prof.rules {
			m := r.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := m[r.re.SubexpIndex("name")]
			end := t.blockEnd(lines, i)

			d := parse.Declaration{
				Name:      name,
				Kind:      r.kind,
				StartLine: i + 1,
				EndLine:   end + 1,
				Signature: trimSignature(trimmed),
				Doc:       t.docFor(lines, i, end),
				Modifiers: t.modifiersIn(line),
			}
			if key := d.Key(); !seen[key] {
				seen[key] = true
				found = append(found, lineSpan{decl: d, start: i, end: end})
			}
			break
		}
	}
	return nestSpans(found)
}

// blockEnd locates the last line of the block opened at start, by indentation
// for offside-rule languages and by brace counting otherwise.
func (t *Tier) blockEnd(lines []string, start int) int {
	if t.prof.indentBlocks {
		return indentBlockEnd(lines, start)
	}
	return braceBlockEnd(lines, start, t.prof.lineComment)
}

func braceBlockEnd(lines []string, start int, lineComment string) int {
	depth := strings.Count(lines[start], "{") - strings.Count(lines[start], "}")
	if depth <= 0 {
		return start
	}
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if lineComment != "" && strings.HasPrefix(trimmed, lineComment) {
			continue
		}
		depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		if depth <= 0 {
			return i
		}
	}
	return len(lines) - 1
}

func indentBlockEnd(lines []string, start int) int {
	if !strings.HasSuffix(strings.TrimRight(lines[start], " \t"), ":") {
		return start
	}
	base := indentOf(lines[start])
	last := start
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentOf(lines[i]) <= base {
			break
		}
		last = i
	}
	return last
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

func (t *Tier) docFor(lines []string, start, end int) string {
	if t.prof.indentBlocks {
		return docstringAfter(lines, start, end)
	}
	return precedingLineComments(lines, start, t.prof.lineComment)
}

// docstringAfter picks up a triple-quoted literal on the first non-blank
// line of the block body.
func docstringAfter(lines []string, start, end int) string {
	for i := start + 1; i <= end && i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		var quote string
		switch {
		case strings.HasPrefix(trimmed, `"""`):
			quote = `"""`
		case strings.HasPrefix(trimmed, "'''"):
			quote = "'''"
		default:
			return ""
		}
		rest := trimmed[3:]
		if idx := strings.Index(rest, quote); idx >= 0 {
			return strings.TrimSpace(rest[:idx])
		}
		parts := []string{strings.TrimSpace(rest)}
		for j := i + 1; j <= end && j < len(lines); j++ {
			body := strings.TrimSpace(lines[j])
			if idx := strings.Index(body, quote); idx >= 0 {
				parts = append(parts, strings.TrimSpace(body[:idx]))
				return strings.TrimSpace(strings.Join(parts, "\n"))
			}
			parts = append(parts, body)
		}
		return ""
	}
	return ""
}

func precedingLineComments(lines []string, start int, lineComment string) string {
	if lineComment == "" {
		return ""
	}
	var parts []string
	for i := start - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, lineComment) {
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(trimmed, lineComment))
		parts = append([]string{text}, parts...)
	}
	return strings.Join(parts, "\n")
}

func (t *Tier) modifiersIn(line string) map[string]bool {
	if len(t.prof.modifiers) == 0 {
		return nil
	}
	padded := " " + line + " "
	mods := make(map[string]bool)
	for _, m := range t.prof.modifiers {
		if strings.Contains(padded, " "+m+" ") || strings.HasPrefix(strings.TrimSpace(line), m+" ") {
			if m == "pub" {
				m = "public"
			}
			mods[m] = true
		}
	}
	if len(mods) == 0 {
		return nil
	}
	return mods
}

func trimSignature(line string) string {
	sig := strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "{")), ":")
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	return strings.TrimSpace(sig)
}

// nestSpans rebuilds nesting from line extents with an explicit stack, the
// same strict-containment rule the structural tier applies to byte ranges.
func nestSpans(found []lineSpan) []parse.Declaration {
	if len(found) == 0 {
		return nil
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	var roots []parse.Declaration
	var stack []lineSpan

	flushTop := func() {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(stack) > 0 {
			parent := &stack[len(stack)-1].decl
			parent.Children = append(parent.Children, top.decl)
		} else {
			roots = append(roots, top.decl)
		}
	}

	for _, s := range found {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			inside := s.start >= top.start && s.end <= top.end
			same := s.start == top.start && s.end == top.end
			if inside && !same {
				break
			}
			flushTop()
		}
		stack = append(stack, s)
	}
	for len(stack) > 0 {
		flushTop()
	}
	return roots
}

func (t *Tier) scanImports(lines []string) []parse.Import {
	var out []parse.Import
	inGoBlock := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if t.language == lang.Go {
			if inGoBlock {
				if trimmed == ")" {
					inGoBlock = false
					continue
				}
				if p := quotedSpan(trimmed); p != "" {
					out = append(out, parse.Import{RawText: trimmed, ResolvedName: p, Line: i + 1})
				}
				continue
			}
			if trimmed == "import (" {
				inGoBlock = true
				continue
			}
		}

		for _, re := range t.prof.imports {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			out = append(out, parse.Import{
				RawText:      trimmed,
				ResolvedName: strings.TrimSpace(m[re.SubexpIndex("path")]),
				Line:         i + 1,
			})
			break
		}
	}
	return out
}

func quotedSpan(s string) string {
	i := strings.IndexByte(s, '"')
	if i < 0 {
		return ""
	}
	j := strings.IndexByte(s[i+1:], '"')
	if j < 0 {
		return ""
	}
	return s[i+1 : i+1+j]
}
