// # internal/report/json.go
package report

import (
	"encoding/json"
	"io"

	"strata/internal/batch"
	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
)

type jsonWriter struct {
	out io.Writer
	doc document
}

func (j *jsonWriter) Begin(meta Meta) error {
	j.doc = newDocument(metaWithDefaults(meta))
	j.doc.Files = []fileEntry{}
	return nil
}

func (j *jsonWriter) File(res wire.WorkResult) error {
	j.doc.Files = append(j.doc.Files, newFileEntry(res))
	return nil
}

func (j *jsonWriter) End(stats batch.Stats) error {
	j.doc.Stats = newStatsBlock(stats)
	data, err := json.MarshalIndent(j.doc, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.CodeSerialization, "marshal json report")
	}
	data = append(data, '\n')
	if _, err := j.out.Write(data); err != nil {
		return errs.Wrap(err, errs.CodeInternal, "write report")
	}
	return nil
}
