// # internal/report/report.go
//
// Report writers for one run's result stream. A writer is fed results in
// index order between Begin and End; markdown and text stream straight to
// the output, the document formats buffer entries and marshal once in End.
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

const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatXML      = "xml"
	FormatText     = "text"
)

// Meta identifies the run a report describes.
type Meta struct {
	Version     string
	RunID       string
	GeneratedAt time.Time
}

// Writer renders one run. Call Begin once, File once per result in index
// order, then End once with the batch counters.
type Writer interface {
	Begin(meta Meta) error
	File(res wire.WorkResult) error
	End(stats batch.Stats) error
}

// New picks the writer for a format name. An empty format means markdown.
func New(format string, w io.Writer) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatMarkdown, "":
		return &markdownWriter{out: w}, nil
	case FormatJSON:
		return &jsonWriter{out: w}, nil
	case FormatYAML:
		return &yamlWriter{out: w}, nil
	case FormatXML:
		return &xmlWriter{out: w}, nil
	case FormatText:
		return &textWriter{out: w}, nil
	}
	return nil, errs.New(errs.CodeConfig, fmt.Sprintf("unknown output format %q", format))
}

func metaWithDefaults(meta Meta) Meta {
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now().UTC()
	}
	if strings.TrimSpace(meta.Version) == "" {
		meta.Version = "unknown"
	}
	if strings.TrimSpace(meta.RunID) == "" {
		meta.RunID = "unknown"
	}
	return meta
}
