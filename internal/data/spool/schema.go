// # internal/data/spool/schema.go
package spool

import (
	"database/sql"

	errs "strata/internal/core/errors"
)

func migrateSpoolSchema(db *sql.DB) error {
	if db == nil {
		return errs.New(errs.CodeSpool, "spool db is nil")
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS result_spool (
  run_id TEXT NOT NULL,
  idx INTEGER NOT NULL,
  file_path TEXT NOT NULL DEFAULT '',
  payload BLOB NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (run_id, idx)
);
`)
	if err != nil {
		return errs.Wrap(err, errs.CodeSpool, "migrate spool schema")
	}
	return nil
}
