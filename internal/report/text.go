// # internal/report/text.go
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

const textWidth = 80

// textWriter renders for terminals: separator rules, indented key/value
// lines, one block per file.
type textWriter struct {
	out io.Writer
}

func (t *textWriter) Begin(meta Meta) error {
	meta = metaWithDefaults(meta)
	var b strings.Builder
	b.WriteString(rule('='))
	b.WriteString(center("STRATA PARSE REPORT"))
	b.WriteString(rule('='))
	fmt.Fprintf(&b, "run: %s\n", meta.RunID)
	fmt.Fprintf(&b, "generated: %s\n", meta.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "version: %s\n\n", meta.Version)
	return t.flush(b.String())
}

func (t *textWriter) File(res wire.WorkResult) error {
	entry := newFileEntry(res)

	var b strings.Builder
	b.WriteString(rule('-'))
	fmt.Fprintf(&b, "%s\n", entry.Path)
	fmt.Fprintf(&b, "  language:   %s\n", orDash(entry.Language))
	fmt.Fprintf(&b, "  quality:    %s\n", entry.Quality)
	fmt.Fprintf(&b, "  engine:     %s\n", orDash(entry.Engine))
	fmt.Fprintf(&b, "  confidence: %.2f\n", entry.Confidence)
	fmt.Fprintf(&b, "  duration:   %dms\n", entry.DurationMS)
	if entry.TimedOut {
		b.WriteString("  timed out\n")
	}
	if entry.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", entry.Error)
	}
	if n := countDecls(entry.Declarations); n > 0 {
		fmt.Fprintf(&b, "  declarations: %d\n", n)
	}
	if len(entry.Imports) > 0 {
		fmt.Fprintf(&b, "  imports: %d\n", len(entry.Imports))
	}
	for _, issue := range entry.SecurityIssues {
		fmt.Fprintf(&b, "  [%s] line %d: %s\n", strings.ToUpper(issue.Severity), issue.Line, issue.Rule)
	}
	return t.flush(b.String())
}

func (t *textWriter) End(stats batch.Stats) error {
	block := newStatsBlock(stats)

	var b strings.Builder
	b.WriteString(rule('='))
	b.WriteString("SUMMARY\n")
	fmt.Fprintf(&b, "  total files:    %d\n", block.TotalFiles)
	fmt.Fprintf(&b, "  completed:      %d\n", block.Completed)
	fmt.Fprintf(&b, "  failed:         %d\n", block.Failed)
	fmt.Fprintf(&b, "  degraded:       %d\n", block.Degraded)
	fmt.Fprintf(&b, "  timed out:      %d\n", block.TimedOut)
	fmt.Fprintf(&b, "  cancelled:      %d\n", block.Cancelled)
	fmt.Fprintf(&b, "  skipped:        %d\n", block.Skipped)
	fmt.Fprintf(&b, "  avg confidence: %.2f\n", block.AvgConfidence)
	if block.Incomplete {
		b.WriteString("  batch incomplete\n")
	}
	for _, row := range block.Engines {
		fmt.Fprintf(&b, "  %s/%s: %d\n", orDash(row.Language), row.Engine, row.Files)
	}
	b.WriteString(rule('='))
	return t.flush(b.String())
}

func (t *textWriter) flush(s string) error {
	if _, err := io.WriteString(t.out, s); err != nil {
		return errs.Wrap(err, errs.CodeInternal, "write report")
	}
	return nil
}

func rule(ch byte) string {
	return strings.Repeat(string(ch), textWidth) + "\n"
}

func center(s string) string {
	pad := (textWidth - len(s)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + s + "\n"
}
