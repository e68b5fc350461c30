// # internal/engine/secrets/scanner.go
//
// Secret detection over raw file content. Three passes: known token shapes,
// quoted values next to sensitive variable names, and bare high-entropy
// strings. Findings carry masked excerpts only; the raw value never leaves
// this package.
package secrets

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
)

const (
	DefaultEntropyThreshold = 4.0
	DefaultMinTokenLength   = 20
)

// Rule is a configured detection pattern.
type Rule struct {
	Name     string
	Pattern  string
	Severity string
}

type Options struct {
	EntropyThreshold float64
	MinTokenLength   int
	Rules            []Rule
}

type compiledRule struct {
	name     string
	severity parse.Severity
	re       *regexp.Regexp
}

type Scanner struct {
	entropyThreshold float64
	minTokenLength   int
	rules            []compiledRule
	contextVarRE     *regexp.Regexp
	quotedValueRE    *regexp.Regexp
	quotedTokenRE    *regexp.Regexp
}

var builtinRules = []Rule{
	{Name: "aws-access-key-id", Severity: "high", Pattern: `\bAKIA[0-9A-Z]{16}\b`},
	{Name: "github-pat", Severity: "high", Pattern: `\bghp_[A-Za-z0-9]{36}\b`},
	{Name: "github-fine-grained-pat", Severity: "high", Pattern: `\bgithub_pat_[A-Za-z0-9_]{82}\b`},
	{Name: "stripe-live-secret", Severity: "high", Pattern: `\bsk_live_[A-Za-z0-9]{16,}\b`},
	{Name: "slack-token", Severity: "high", Pattern: `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`},
	{Name: "private-key-block", Severity: "critical", Pattern: `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`},
}

func NewScanner(opts Options) (*Scanner, error) {
	if opts.EntropyThreshold <= 0 {
		opts.EntropyThreshold = DefaultEntropyThreshold
	}
	if opts.MinTokenLength <= 0 {
		opts.MinTokenLength = DefaultMinTokenLength
	}

	rules, err := compileRules(append(append([]Rule(nil), builtinRules...), opts.Rules...))
	if err != nil {
		return nil, err
	}

	return &Scanner{
		entropyThreshold: opts.EntropyThreshold,
		minTokenLength:   opts.MinTokenLength,
		rules:            rules,
		contextVarRE:     regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key|token|auth[_-]?token|access[_-]?key|private[_-]?key|client[_-]?secret)\b`),
		quotedValueRE:    regexp.MustCompile(`"([^"\r\n]{4,})"|'([^'\r\n]{4,})'`),
		quotedTokenRE:    regexp.MustCompile(`"([A-Za-z0-9_\-+=:/.]{12,})"|'([A-Za-z0-9_\-+=:/.]{12,})'`),
	}, nil
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, errs.New(errs.CodeConfig, "secret rule name must not be empty")
		}
		expr := strings.TrimSpace(r.Pattern)
		if expr == "" {
			return nil, errs.New(errs.CodeConfig, fmt.Sprintf("secret rule %q pattern must not be empty", name))
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeConfig, fmt.Sprintf("compile secret rule %q", name))
		}
		sev, ok := parse.SeverityFromName(r.Severity)
		if !ok {
			sev = parse.SeverityMedium
		}
		compiled = append(compiled, compiledRule{name: name, severity: sev, re: re})
	}
	return compiled, nil
}

// Scan inspects raw content and returns findings ordered by line then rule.
func (s *Scanner) Scan(content []byte) []parse.SecurityIssue {
	if len(content) == 0 {
		return nil
	}

	text := string(content)
	index := buildLineIndex(content)
	found := make(map[findingKey]parse.SecurityIssue)

	s.scanRules(text, index, found)
	s.scanContext(text, index, found)
	s.scanEntropy(text, index, found)

	if len(found) == 0 {
		return nil
	}
	out := make([]parse.SecurityIssue, 0, len(found))
	for _, issue := range found {
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}

type findingKey struct {
	line    int
	excerpt string
}

func upsert(found map[findingKey]parse.SecurityIssue, issue parse.SecurityIssue) {
	key := findingKey{line: issue.Line, excerpt: issue.Excerpt}
	if existing, ok := found[key]; ok && existing.Confidence >= issue.Confidence {
		return
	}
	found[key] = issue
}

func (s *Scanner) scanRules(text string, index lineIndex, found map[findingKey]parse.SecurityIssue) {
	for _, rule := range s.rules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if ignoredCandidate(value) {
				continue
			}
			line, _ := index.lineCol(loc[0])
			upsert(found, parse.SecurityIssue{
				Rule:       rule.name,
				Severity:   rule.severity,
				Line:       line,
				Excerpt:    MaskValue(value),
				Confidence: 0.99,
			})
		}
	}
}

func (s *Scanner) scanContext(text string, index lineIndex, found map[findingKey]parse.SecurityIssue) {
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		if !s.contextVarRE.MatchString(line) {
			offset += len(line) + 1
			continue
		}
		for _, match := range s.quotedValueRE.FindAllStringSubmatchIndex(line, -1) {
			start, end, ok := firstMatchedGroup(match)
			if !ok {
				continue
			}
			candidate := line[start:end]
			if len(candidate) < s.minTokenLength || ignoredCandidate(candidate) {
				continue
			}
			entropy := shannonEntropy(candidate)
			if entropy < s.entropyThreshold*0.8 {
				continue
			}
			confidence := 0.70
			if entropy >= s.entropyThreshold {
				confidence = 0.85
			}
			ln, _ := index.lineCol(offset + start)
			upsert(found, parse.SecurityIssue{
				Rule:       "sensitive-assignment",
				Severity:   parse.SeverityMedium,
				Line:       ln,
				Excerpt:    MaskValue(candidate),
				Confidence: confidence,
			})
		}
		offset += len(line) + 1
	}
}

func (s *Scanner) scanEntropy(text string, index lineIndex, found map[findingKey]parse.SecurityIssue) {
	for _, match := range s.quotedTokenRE.FindAllStringSubmatchIndex(text, -1) {
		start, end, ok := firstMatchedGroup(match)
		if !ok {
			continue
		}
		candidate := text[start:end]
		if len(candidate) < s.minTokenLength || ignoredCandidate(candidate) {
			continue
		}
		if !hasLetterAndDigit(candidate) {
			continue
		}
		entropy := shannonEntropy(candidate)
		if entropy < s.entropyThreshold {
			continue
		}
		line, _ := index.lineCol(start)
		upsert(found, parse.SecurityIssue{
			Rule:       "high-entropy-string",
			Severity:   parse.SeverityLow,
			Line:       line,
			Excerpt:    MaskValue(candidate),
			Confidence: 0.6,
		})
	}
}

// MaskValue keeps just enough of a finding to recognize it in a report.
func MaskValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func ignoredCandidate(value string) bool {
	lower := strings.ToLower(value)
	for _, blocked := range []string{"example", "sample", "dummy", "placeholder", "changeme", "notasecret", "test"} {
		if strings.Contains(lower, blocked) {
			return true
		}
	}
	return false
}

func hasLetterAndDigit(value string) bool {
	hasLetter, hasDigit := false, false
	for _, r := range value {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
		if hasLetter && hasDigit {
			return true
		}
	}
	return false
}

func shannonEntropy(value string) float64 {
	if value == "" {
		return 0
	}
	freq := make(map[rune]float64)
	runes := 0
	for _, r := range value {
		freq[r]++
		runes++
	}
	entropy := 0.0
	for _, count := range freq {
		p := count / float64(runes)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

type lineIndex struct {
	starts []int
}

func buildLineIndex(content []byte) lineIndex {
	starts := []int{0}
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return lineIndex{starts: starts}
}

func (i lineIndex) lineCol(offset int) (int, int) {
	if offset < 0 {
		return 1, 1
	}
	line := sort.Search(len(i.starts), func(idx int) bool { return i.starts[idx] > offset }) - 1
	if line < 0 {
		line = 0
	}
	col := offset - i.starts[line] + 1
	if col < 1 {
		col = 1
	}
	return line + 1, col
}

func firstMatchedGroup(match []int) (int, int, bool) {
	for i := 2; i+1 < len(match); i += 2 {
		if match[i] >= 0 && match[i+1] >= 0 {
			return match[i], match[i+1], true
		}
	}
	return 0, 0, false
}
