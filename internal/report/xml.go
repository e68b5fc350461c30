// # internal/report/xml.go
package report

import (
	"encoding/xml"
	"io"

	"strata/internal/batch"
	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
)

type xmlWriter struct {
	out io.Writer
	doc document
}

func (x *xmlWriter) Begin(meta Meta) error {
	x.doc = newDocument(metaWithDefaults(meta))
	return nil
}

func (x *xmlWriter) File(res wire.WorkResult) error {
	x.doc.Files = append(x.doc.Files, newFileEntry(res))
	return nil
}

func (x *xmlWriter) End(stats batch.Stats) error {
	x.doc.Stats = newStatsBlock(stats)
	data, err := xml.MarshalIndent(x.doc, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.CodeSerialization, "marshal xml report")
	}
	if _, err := io.WriteString(x.out, xml.Header); err != nil {
		return errs.Wrap(err, errs.CodeInternal, "write report")
	}
	data = append(data, '\n')
	if _, err := x.out.Write(data); err != nil {
		return errs.Wrap(err, errs.CodeInternal, "write report")
	}
	return nil
}
