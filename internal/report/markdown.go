// # internal/report/markdown.go
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"strata/internal/batch"
	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
)

// markdownWriter streams one section per file and closes with the summary
// tables. Nothing is buffered beyond the current file.
type markdownWriter struct {
	out   io.Writer
	count int
}

func (m *markdownWriter) Begin(meta Meta) error {
	meta = metaWithDefaults(meta)
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Parse Report\n")
	b.WriteString("tool: strata\n")
	b.WriteString("run: " + meta.RunID + "\n")
	b.WriteString("generated_at: " + meta.GeneratedAt.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + meta.Version + "\n")
	b.WriteString("---\n\n")
	b.WriteString("# Parse Report\n\n")
	b.WriteString("## Files\n\n")
	return m.flush(b.String())
}

func (m *markdownWriter) File(res wire.WorkResult) error {
	entry := newFileEntry(res)
	m.count++

	var b strings.Builder
	fmt.Fprintf(&b, "### %d. %s\n\n", m.count, entry.Path)

	b.WriteString("| Property | Value |\n")
	b.WriteString("| --- | --- |\n")
	fmt.Fprintf(&b, "| Language | %s |\n", orDash(entry.Language))
	fmt.Fprintf(&b, "| Quality | %s |\n", entry.Quality)
	fmt.Fprintf(&b, "| Engine | %s |\n", orDash(entry.Engine))
	fmt.Fprintf(&b, "| Confidence | %.2f |\n", entry.Confidence)
	if entry.LineCount > 0 {
		fmt.Fprintf(&b, "| Lines | %d |\n", entry.LineCount)
	}
	fmt.Fprintf(&b, "| Duration | %dms |\n", entry.DurationMS)
	if entry.TimedOut {
		b.WriteString("| Timed Out | yes |\n")
	}
	if entry.Degraded {
		b.WriteString("| Degraded | yes |\n")
	}
	b.WriteString("\n")

	if entry.Error != "" {
		fmt.Fprintf(&b, "> %s\n\n", entry.Error)
	}

	m.writeDeclarations(&b, entry.Declarations)
	m.writeImports(&b, entry.Imports)
	m.writeIssues(&b, entry.SecurityIssues)
	if len(entry.MissedFeatures) > 0 {
		fmt.Fprintf(&b, "Missed features: `%s`\n\n", strings.Join(entry.MissedFeatures, "`, `"))
	}

	return m.flush(b.String())
}

func (m *markdownWriter) writeDeclarations(b *strings.Builder, decls []declEntry) {
	if len(decls) == 0 {
		return
	}
	collapse := countDecls(decls) > 20
	if collapse {
		b.WriteString("<details>\n<summary>Declarations</summary>\n\n")
	} else {
		b.WriteString("**Declarations**\n\n")
	}
	writeDeclTree(b, decls, 0)
	b.WriteString("\n")
	if collapse {
		b.WriteString("</details>\n\n")
	}
}

func writeDeclTree(b *strings.Builder, decls []declEntry, depth int) {
	for _, d := range decls {
		fmt.Fprintf(b, "%s- **%s** `%s` (lines %d-%d)\n",
			strings.Repeat("  ", depth), d.Kind, d.Name, d.StartLine, d.EndLine)
		writeDeclTree(b, d.Children, depth+1)
	}
}

func countDecls(decls []declEntry) int {
	total := 0
	for _, d := range decls {
		total += 1 + countDecls(d.Children)
	}
	return total
}

func (m *markdownWriter) writeImports(b *strings.Builder, imports []importRow) {
	if len(imports) == 0 {
		return
	}
	b.WriteString("**Imports**\n\n")
	for _, imp := range imports {
		name := imp.ResolvedName
		if name == "" {
			name = imp.RawText
		}
		fmt.Fprintf(b, "- line %d: `%s`\n", imp.Line, name)
	}
	b.WriteString("\n")
}

func (m *markdownWriter) writeIssues(b *strings.Builder, issues []issueEntry) {
	if len(issues) == 0 {
		return
	}
	b.WriteString("**Security Issues**\n\n")
	for _, issue := range issues {
		fmt.Fprintf(b, "- **%s** line %d `%s`", strings.ToUpper(issue.Severity), issue.Line, issue.Rule)
		if issue.Excerpt != "" {
			fmt.Fprintf(b, ": `%s`", issue.Excerpt)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (m *markdownWriter) End(stats batch.Stats) error {
	block := newStatsBlock(stats)

	var b strings.Builder
	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	fmt.Fprintf(&b, "| Total Files | %d |\n", block.TotalFiles)
	fmt.Fprintf(&b, "| Completed | %d |\n", block.Completed)
	fmt.Fprintf(&b, "| Failed | %d |\n", block.Failed)
	fmt.Fprintf(&b, "| Degraded | %d |\n", block.Degraded)
	fmt.Fprintf(&b, "| Timed Out | %d |\n", block.TimedOut)
	fmt.Fprintf(&b, "| Cancelled | %d |\n", block.Cancelled)
	fmt.Fprintf(&b, "| Skipped | %d |\n", block.Skipped)
	fmt.Fprintf(&b, "| Avg Confidence | %.2f |\n", block.AvgConfidence)
	if block.Incomplete {
		b.WriteString("| Incomplete | yes |\n")
	}
	b.WriteString("\n")

	if len(block.Engines) > 0 {
		b.WriteString("### Engines by Language\n\n")
		b.WriteString("| Language | Engine | Files |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, row := range block.Engines {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", orDash(row.Language), row.Engine, row.Files)
		}
		b.WriteString("\n")
	}

	return m.flush(b.String())
}

func (m *markdownWriter) flush(s string) error {
	if _, err := io.WriteString(m.out, s); err != nil {
		return errs.Wrap(err, errs.CodeInternal, "write report")
	}
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
