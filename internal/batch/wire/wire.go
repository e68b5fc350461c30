// # internal/batch/wire/wire.go
//
// Wire records for the coordinator/worker process boundary. Field names are
// a stable contract; both sides marshal with encoding/json, so unknown
// fields arriving from the other side are dropped silently. Reconstruction
// never trusts the shape of what arrived: enums are restored through the
// typed lookups and a record missing required fields is downgraded to an
// error-bearing result instead of failing the whole batch.
package wire

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"

	errs "strata/internal/core/errors"
	"strata/internal/engine/parse"
)

// Snapshot is the slice of configuration a worker needs to run cascades the
// same way the coordinator would have in-process. Hash carries an xxh3
// fingerprint of the other fields so a worker can refuse a snapshot that
// was mangled in transit.
type Snapshot struct {
	MergeStrategy    string `json:"merge_strategy"`
	EarlyTermination bool   `json:"early_termination_enabled"`
	Threshold        int    `json:"early_termination_threshold"`
	MaxFileBytes     int    `json:"max_file_bytes,omitempty"`
	CacheMaxSize     int    `json:"cache_max_size"`
	ScanSecrets      bool   `json:"scan_secrets"`
	Hash             string `json:"hash,omitempty"`
}

// Fingerprint hashes the snapshot's canonical JSON form, excluding Hash
// itself.
func (s Snapshot) Fingerprint() string {
	s.Hash = ""
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// Sealed returns a copy carrying its own fingerprint.
func (s Snapshot) Sealed() Snapshot {
	s.Hash = s.Fingerprint()
	return s
}

// Verify reports whether the snapshot still matches its fingerprint. An
// unsealed snapshot never verifies.
func (s Snapshot) Verify() bool {
	return s.Hash != "" && s.Hash == s.Fingerprint()
}

// WorkItem is one file dispatched to a worker. Content crosses the boundary
// in full; workers never read shared state. Index is the submission
// position, carried through to the WorkResult so callers can restore source
// order from the completion-ordered stream.
type WorkItem struct {
	Index        int      `json:"index"`
	FilePath     string   `json:"file_path"`
	Content      []byte   `json:"content"`
	LanguageHint string   `json:"language_hint,omitempty"`
	Config       Snapshot `json:"config_snapshot"`
}

// WorkResult is the worker's reply for one WorkItem. FilePath and Index are
// duplicated outside the result record so a synthetic or mangled result can
// still be correlated with its item.
type WorkResult struct {
	Index      int           `json:"index"`
	FilePath   string        `json:"file_path"`
	Result     *ResultRecord `json:"result,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

type DeclarationRecord struct {
	Name      string              `json:"name"`
	Kind      string              `json:"kind"`
	StartLine int                 `json:"start_line"`
	EndLine   int                 `json:"end_line"`
	Signature string              `json:"signature,omitempty"`
	Doc       string              `json:"documentation,omitempty"`
	Modifiers []string            `json:"modifiers,omitempty"`
	Children  []DeclarationRecord `json:"children,omitempty"`
}

type ImportRecord struct {
	RawText      string `json:"raw_text"`
	ResolvedName string `json:"resolved_name,omitempty"`
	Line         int    `json:"line"`
}

type IssueRecord struct {
	Rule       string  `json:"rule"`
	Severity   string  `json:"severity"`
	Line       int     `json:"line"`
	Excerpt    string  `json:"excerpt,omitempty"`
	Confidence float64 `json:"confidence"`
}

type ResultRecord struct {
	FilePath       string              `json:"file_path"`
	Language       string              `json:"language,omitempty"`
	Declarations   []DeclarationRecord `json:"declarations,omitempty"`
	Imports        []ImportRecord      `json:"imports,omitempty"`
	MissedFeatures []string            `json:"missed_features,omitempty"`
	Quality        string              `json:"quality"`
	Degraded       bool                `json:"degraded,omitempty"`
	Error          string              `json:"error,omitempty"`
	EngineUsed     string              `json:"engine_used,omitempty"`
	Confidence     float64             `json:"confidence_score"`
	SecurityIssues []IssueRecord       `json:"security_issues,omitempty"`
	LineCount      int                 `json:"line_count,omitempty"`
}

// EncodeResult flattens a parse result into its wire record. Sets become
// sorted lists so the encoded form is deterministic.
func EncodeResult(res *parse.Result) *ResultRecord {
	if res == nil {
		return nil
	}
	rec := &ResultRecord{
		FilePath:       res.FilePath,
		Language:       res.Language,
		Declarations:   encodeDeclarations(res.Declarations),
		Imports:        encodeImports(res.Imports),
		MissedFeatures: sortedSet(res.MissedFeatures),
		Quality:        res.Quality.String(),
		Degraded:       res.Degraded,
		Error:          res.Error,
		EngineUsed:     res.EngineUsed,
		Confidence:     res.Confidence,
		SecurityIssues: encodeIssues(res.SecurityIssues),
		LineCount:      res.LineCount,
	}
	return rec
}

// DecodeResult rebuilds a parse result from a wire record. The returned
// result is always usable: when the record is missing required fields or
// violates the containment invariant, the result is downgraded to an
// error-bearing one and the returned error describes the defect for
// logging.
func DecodeResult(rec *ResultRecord, fallbackPath string) (*parse.Result, error) {
	path := fallbackPath
	if rec != nil && rec.FilePath != "" {
		path = rec.FilePath
	}
	if rec == nil {
		err := errs.New(errs.CodeSerialization, "work result carried no parse result")
		return downgraded(path, "", err), err
	}

	decls, defect := decodeDeclarations(rec.Declarations)
	if defect == nil {
		defect = parse.ValidateContainment(decls)
	}
	var imports []parse.Import
	if defect == nil {
		imports, defect = decodeImports(rec.Imports)
	}
	var issues []parse.SecurityIssue
	if defect == nil {
		issues, defect = decodeIssues(rec.SecurityIssues)
	}
	if defect != nil {
		err := errs.AddContext(
			errs.Wrap(defect, errs.CodeSerialization, "reconstruct parse result"),
			errs.CtxPath, path)
		return downgraded(path, rec.EngineUsed, err), err
	}

	return &parse.Result{
		FilePath:       path,
		Language:       rec.Language,
		Declarations:   decls,
		Imports:        imports,
		MissedFeatures: setOf(rec.MissedFeatures),
		Quality:        parse.QualityFromName(rec.Quality),
		Degraded:       rec.Degraded,
		Error:          rec.Error,
		EngineUsed:     rec.EngineUsed,
		Confidence:     clamp01(rec.Confidence),
		SecurityIssues: issues,
		LineCount:      rec.LineCount,
	}, nil
}

func downgraded(path, engine string, err error) *parse.Result {
	return &parse.Result{
		FilePath:   path,
		Quality:    parse.QualityMinimal,
		Error:      err.Error(),
		EngineUsed: engine,
		Confidence: 0.0,
	}
}

func encodeDeclarations(decls []parse.Declaration) []DeclarationRecord {
	if len(decls) == 0 {
		return nil
	}
	out := make([]DeclarationRecord, len(decls))
	type frame struct {
		src []parse.Declaration
		dst []DeclarationRecord
	}
	stack := []frame{{src: decls, dst: out}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := range f.src {
			d := &f.src[i]
			f.dst[i] = DeclarationRecord{
				Name:      d.Name,
				Kind:      d.Kind.String(),
				StartLine: d.StartLine,
				EndLine:   d.EndLine,
				Signature: d.Signature,
				Doc:       d.Doc,
				Modifiers: sortedSet(d.Modifiers),
			}
			if len(d.Children) > 0 {
				kids := make([]DeclarationRecord, len(d.Children))
				f.dst[i].Children = kids
				stack = append(stack, frame{src: d.Children, dst: kids})
			}
		}
	}
	return out
}

func decodeDeclarations(records []DeclarationRecord) ([]parse.Declaration, error) {
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]parse.Declaration, len(records))
	type frame struct {
		src []DeclarationRecord
		dst []parse.Declaration
	}
	stack := []frame{{src: records, dst: out}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := range f.src {
			rec := &f.src[i]
			if rec.Name == "" {
				return nil, fmt.Errorf("declaration record missing name")
			}
			kind := parse.KindFromName(rec.Kind)
			if kind.String() != rec.Kind {
				return nil, fmt.Errorf("declaration %q has unknown kind %q", rec.Name, rec.Kind)
			}
			if rec.StartLine < 1 || rec.EndLine < rec.StartLine {
				return nil, fmt.Errorf("declaration %q has invalid range %d-%d", rec.Name, rec.StartLine, rec.EndLine)
			}
			f.dst[i] = parse.Declaration{
				Name:      rec.Name,
				Kind:      kind,
				StartLine: rec.StartLine,
				EndLine:   rec.EndLine,
				Signature: rec.Signature,
				Doc:       rec.Doc,
				Modifiers: parse.Modifiers(rec.Modifiers...),
			}
			if len(rec.Children) > 0 {
				kids := make([]parse.Declaration, len(rec.Children))
				f.dst[i].Children = kids
				stack = append(stack, frame{src: rec.Children, dst: kids})
			}
		}
	}
	return out, nil
}

func encodeImports(imports []parse.Import) []ImportRecord {
	if len(imports) == 0 {
		return nil
	}
	out := make([]ImportRecord, len(imports))
	for i, imp := range imports {
		out[i] = ImportRecord{RawText: imp.RawText, ResolvedName: imp.ResolvedName, Line: imp.Line}
	}
	return out
}

func decodeImports(records []ImportRecord) ([]parse.Import, error) {
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]parse.Import, len(records))
	for i, rec := range records {
		if rec.RawText == "" {
			return nil, fmt.Errorf("import record %d missing raw text", i)
		}
		if rec.Line < 1 {
			return nil, fmt.Errorf("import %q has invalid line %d", rec.RawText, rec.Line)
		}
		out[i] = parse.Import{RawText: rec.RawText, ResolvedName: rec.ResolvedName, Line: rec.Line}
	}
	return out, nil
}

func encodeIssues(issues []parse.SecurityIssue) []IssueRecord {
	if len(issues) == 0 {
		return nil
	}
	out := make([]IssueRecord, len(issues))
	for i, issue := range issues {
		out[i] = IssueRecord{
			Rule:       issue.Rule,
			Severity:   issue.Severity.String(),
			Line:       issue.Line,
			Excerpt:    issue.Excerpt,
			Confidence: issue.Confidence,
		}
	}
	return out
}

func decodeIssues(records []IssueRecord) ([]parse.SecurityIssue, error) {
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]parse.SecurityIssue, len(records))
	for i, rec := range records {
		if rec.Rule == "" {
			return nil, fmt.Errorf("security issue record %d missing rule", i)
		}
		sev, ok := parse.SeverityFromName(rec.Severity)
		if !ok {
			return nil, fmt.Errorf("security issue %q has unknown severity %q", rec.Rule, rec.Severity)
		}
		if rec.Line < 1 {
			return nil, fmt.Errorf("security issue %q has invalid line %d", rec.Rule, rec.Line)
		}
		out[i] = parse.SecurityIssue{
			Rule:       rec.Rule,
			Severity:   sev,
			Line:       rec.Line,
			Excerpt:    rec.Excerpt,
			Confidence: clamp01(rec.Confidence),
		}
	}
	return out, nil
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func setOf(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
