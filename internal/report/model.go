// # internal/report/model.go
//
// Document model for the structured formats. Wire records carry json tags
// only; the report owns its field names across json, yaml, and xml, so the
// stream is remapped into these entries instead of leaking wire shapes.
package report

import (
	"encoding/xml"
	"sort"
	"time"

	"strata/internal/batch"
	"strata/internal/batch/wire"
)

type document struct {
	XMLName     xml.Name    `json:"-" yaml:"-" xml:"parse_report"`
	Tool        string      `json:"tool" yaml:"tool" xml:"tool"`
	Version     string      `json:"version" yaml:"version" xml:"version"`
	RunID       string      `json:"run_id" yaml:"run_id" xml:"run_id"`
	GeneratedAt string      `json:"generated_at" yaml:"generated_at" xml:"generated_at"`
	Stats       statsBlock  `json:"stats" yaml:"stats" xml:"stats"`
	Files       []fileEntry `json:"files" yaml:"files" xml:"files>file"`
}

type statsBlock struct {
	TotalFiles    int         `json:"total_files" yaml:"total_files" xml:"total_files"`
	Completed     int         `json:"completed" yaml:"completed" xml:"completed"`
	Failed        int         `json:"failed" yaml:"failed" xml:"failed"`
	Degraded      int         `json:"degraded" yaml:"degraded" xml:"degraded"`
	TimedOut      int         `json:"timed_out" yaml:"timed_out" xml:"timed_out"`
	Cancelled     int         `json:"cancelled" yaml:"cancelled" xml:"cancelled"`
	Skipped       int         `json:"skipped" yaml:"skipped" xml:"skipped"`
	Incomplete    bool        `json:"incomplete" yaml:"incomplete" xml:"incomplete"`
	AvgConfidence float64     `json:"avg_confidence" yaml:"avg_confidence" xml:"avg_confidence"`
	Engines       []tierEntry `json:"engines_by_language,omitempty" yaml:"engines_by_language,omitempty" xml:"engines_by_language>entry,omitempty"`
}

type tierEntry struct {
	Language string `json:"language" yaml:"language" xml:"language,attr"`
	Engine   string `json:"engine" yaml:"engine" xml:"engine,attr"`
	Files    int    `json:"files" yaml:"files" xml:",chardata"`
}

type fileEntry struct {
	Index          int          `json:"index" yaml:"index" xml:"index,attr"`
	Path           string       `json:"path" yaml:"path" xml:"path,attr"`
	Language       string       `json:"language,omitempty" yaml:"language,omitempty" xml:"language,omitempty"`
	Quality        string       `json:"quality" yaml:"quality" xml:"quality"`
	Engine         string       `json:"engine,omitempty" yaml:"engine,omitempty" xml:"engine,omitempty"`
	Confidence     float64      `json:"confidence" yaml:"confidence" xml:"confidence"`
	Degraded       bool         `json:"degraded,omitempty" yaml:"degraded,omitempty" xml:"degraded,omitempty"`
	TimedOut       bool         `json:"timed_out,omitempty" yaml:"timed_out,omitempty" xml:"timed_out,omitempty"`
	DurationMS     int64        `json:"duration_ms" yaml:"duration_ms" xml:"duration_ms"`
	LineCount      int          `json:"line_count,omitempty" yaml:"line_count,omitempty" xml:"line_count,omitempty"`
	Error          string       `json:"error,omitempty" yaml:"error,omitempty" xml:"error,omitempty"`
	MissedFeatures []string     `json:"missed_features,omitempty" yaml:"missed_features,omitempty" xml:"missed_features>feature,omitempty"`
	Declarations   []declEntry  `json:"declarations,omitempty" yaml:"declarations,omitempty" xml:"declarations>declaration,omitempty"`
	Imports        []importRow  `json:"imports,omitempty" yaml:"imports,omitempty" xml:"imports>import,omitempty"`
	SecurityIssues []issueEntry `json:"security_issues,omitempty" yaml:"security_issues,omitempty" xml:"security_issues>issue,omitempty"`
}

type declEntry struct {
	Name      string      `json:"name" yaml:"name" xml:"name,attr"`
	Kind      string      `json:"kind" yaml:"kind" xml:"kind,attr"`
	StartLine int         `json:"start_line" yaml:"start_line" xml:"start_line,attr"`
	EndLine   int         `json:"end_line" yaml:"end_line" xml:"end_line,attr"`
	Signature string      `json:"signature,omitempty" yaml:"signature,omitempty" xml:"signature,omitempty"`
	Doc       string      `json:"documentation,omitempty" yaml:"documentation,omitempty" xml:"documentation,omitempty"`
	Modifiers []string    `json:"modifiers,omitempty" yaml:"modifiers,omitempty" xml:"modifiers>modifier,omitempty"`
	Children  []declEntry `json:"children,omitempty" yaml:"children,omitempty" xml:"children>declaration,omitempty"`
}

type importRow struct {
	RawText      string `json:"raw_text" yaml:"raw_text" xml:"raw_text"`
	ResolvedName string `json:"resolved_name,omitempty" yaml:"resolved_name,omitempty" xml:"resolved_name,omitempty"`
	Line         int    `json:"line" yaml:"line" xml:"line,attr"`
}

type issueEntry struct {
	Rule       string  `json:"rule" yaml:"rule" xml:"rule,attr"`
	Severity   string  `json:"severity" yaml:"severity" xml:"severity,attr"`
	Line       int     `json:"line" yaml:"line" xml:"line,attr"`
	Excerpt    string  `json:"excerpt,omitempty" yaml:"excerpt,omitempty" xml:"excerpt,omitempty"`
	Confidence float64 `json:"confidence" yaml:"confidence" xml:"confidence,attr"`
}

func newDocument(meta Meta) document {
	return document{
		Tool:        "strata",
		Version:     meta.Version,
		RunID:       meta.RunID,
		GeneratedAt: meta.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

func newFileEntry(res wire.WorkResult) fileEntry {
	entry := fileEntry{
		Index:      res.Index,
		Path:       res.FilePath,
		TimedOut:   res.TimedOut,
		DurationMS: res.DurationMS,
	}
	rec := res.Result
	if rec == nil {
		entry.Quality = "minimal"
		entry.Error = "result record missing"
		return entry
	}
	if rec.FilePath != "" {
		entry.Path = rec.FilePath
	}
	entry.Language = rec.Language
	entry.Quality = rec.Quality
	entry.Engine = rec.EngineUsed
	entry.Confidence = rec.Confidence
	entry.Degraded = rec.Degraded
	entry.LineCount = rec.LineCount
	entry.Error = rec.Error
	entry.MissedFeatures = rec.MissedFeatures
	entry.Declarations = newDeclEntries(rec.Declarations)
	entry.Imports = newImportRows(rec.Imports)
	entry.SecurityIssues = newIssueEntries(rec.SecurityIssues)
	return entry
}

func newDeclEntries(records []wire.DeclarationRecord) []declEntry {
	if len(records) == 0 {
		return nil
	}
	out := make([]declEntry, len(records))
	for i, rec := range records {
		out[i] = declEntry{
			Name:      rec.Name,
			Kind:      rec.Kind,
			StartLine: rec.StartLine,
			EndLine:   rec.EndLine,
			Signature: rec.Signature,
			Doc:       rec.Doc,
			Modifiers: rec.Modifiers,
			Children:  newDeclEntries(rec.Children),
		}
	}
	return out
}

func newImportRows(records []wire.ImportRecord) []importRow {
	if len(records) == 0 {
		return nil
	}
	out := make([]importRow, len(records))
	for i, rec := range records {
		out[i] = importRow{RawText: rec.RawText, ResolvedName: rec.ResolvedName, Line: rec.Line}
	}
	return out
}

func newIssueEntries(records []wire.IssueRecord) []issueEntry {
	if len(records) == 0 {
		return nil
	}
	out := make([]issueEntry, len(records))
	for i, rec := range records {
		out[i] = issueEntry{
			Rule:       rec.Rule,
			Severity:   rec.Severity,
			Line:       rec.Line,
			Excerpt:    rec.Excerpt,
			Confidence: rec.Confidence,
		}
	}
	return out
}

func newStatsBlock(stats batch.Stats) statsBlock {
	block := statsBlock{
		TotalFiles:    stats.TotalFiles,
		Completed:     stats.Completed,
		Failed:        stats.Failed,
		Degraded:      stats.Degraded,
		TimedOut:      stats.TimedOut,
		Cancelled:     stats.Cancelled,
		Skipped:       stats.Skipped,
		Incomplete:    stats.Incomplete,
		AvgConfidence: stats.AvgConfidence,
	}
	for language, tiers := range stats.TiersByLanguage {
		for engine, count := range tiers {
			block.Engines = append(block.Engines, tierEntry{Language: language, Engine: engine, Files: count})
		}
	}
	sort.Slice(block.Engines, func(i, j int) bool {
		if block.Engines[i].Language != block.Engines[j].Language {
			return block.Engines[i].Language < block.Engines[j].Language
		}
		return block.Engines[i].Engine < block.Engines[j].Engine
	})
	return block
}
