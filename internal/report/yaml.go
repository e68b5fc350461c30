// # internal/report/yaml.go
package report

import (
	"io"

	"gopkg.in/yaml.v3"

	"strata/internal/batch"
	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
)

type yamlWriter struct {
	out io.Writer
	doc document
}

func (y *yamlWriter) Begin(meta Meta) error {
	y.doc = newDocument(metaWithDefaults(meta))
	y.doc.Files = []fileEntry{}
	return nil
}

func (y *yamlWriter) File(res wire.WorkResult) error {
	y.doc.Files = append(y.doc.Files, newFileEntry(res))
	return nil
}

func (y *yamlWriter) End(stats batch.Stats) error {
	y.doc.Stats = newStatsBlock(stats)
	data, err := yaml.Marshal(y.doc)
	if err != nil {
		return errs.Wrap(err, errs.CodeSerialization, "marshal yaml report")
	}
	if _, err := y.out.Write(data); err != nil {
		return errs.Wrap(err, errs.CodeInternal, "write report")
	}
	return nil
}
