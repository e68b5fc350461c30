// # internal/data/spool/sqlite.go
package spool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"strata/internal/batch/wire"
	errs "strata/internal/core/errors"
	"strata/internal/core/ports"
)

const sqliteDriverName = "sqlite"

const defaultBusyTimeout = 5 * time.Second

var _ ports.Spool = (*SQLite)(nil)

// SQLite persists one run's results on disk. A single connection with WAL
// keeps concurrent Put calls from tripping over SQLITE_BUSY.
type SQLite struct {
	db    *sql.DB
	runID string
}

type spoolPayload struct {
	Version int             `json:"version"`
	Result  wire.WorkResult `json:"result"`
}

func OpenSQLite(path, runID string, busyTimeout time.Duration) (*SQLite, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, errs.New(errs.CodeSpool, "spool path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, errs.New(errs.CodeSpool, fmt.Sprintf("spool path %q is a directory", cleanPath))
	}
	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrap(err, errs.CodeSpool, fmt.Sprintf("create spool directory %q", dir))
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		cleanPath, busyTimeout.Milliseconds())
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeSpool, fmt.Sprintf("open spool sqlite %q", cleanPath))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, errs.CodeSpool, fmt.Sprintf("ping spool sqlite %q", cleanPath))
	}
	if err := migrateSpoolSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	run := strings.TrimSpace(runID)
	if run == "" {
		run = "default"
	}
	return &SQLite{db: db, runID: run}, nil
}

func (s *SQLite) Put(res wire.WorkResult) error {
	if s == nil || s.db == nil {
		return errs.New(errs.CodeSpool, "spool not initialized")
	}
	raw, err := json.Marshal(spoolPayload{Version: 1, Result: res})
	if err != nil {
		return errs.Wrap(err, errs.CodeSpool, "marshal spool payload")
	}
	now := time.Now().UTC().UnixMilli()
	_, err = s.db.Exec(`
INSERT INTO result_spool (run_id, idx, file_path, payload, created_at)
VALUES (?, ?, ?, ?, ?)
`, s.runID, res.Index, res.FilePath, raw, now)
	if err != nil {
		return errs.Wrap(err, errs.CodeSpool, fmt.Sprintf("insert spool row %d", res.Index))
	}
	return nil
}

// Drain replays the run's rows in index order. It holds the spool's single
// connection for the whole pass; fn must not call back into the spool.
func (s *SQLite) Drain(ctx context.Context, fn func(wire.WorkResult) error) error {
	if s == nil || s.db == nil {
		return errs.New(errs.CodeSpool, "spool not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT idx, payload
FROM result_spool
WHERE run_id = ?
ORDER BY idx ASC
`, s.runID)
	if err != nil {
		return errs.Wrap(err, errs.CodeSpool, "query spool rows")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx int
			raw []byte
		)
		if err := rows.Scan(&idx, &raw); err != nil {
			return errs.Wrap(err, errs.CodeSpool, "scan spool row")
		}
		var payload spoolPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errs.Wrap(err, errs.CodeSpool, fmt.Sprintf("decode spool row %d", idx))
		}
		if err := fn(payload.Result); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(err, errs.CodeSpool, "iterate spool rows")
	}
	return nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errs.New(errs.CodeSpool, "spool not initialized")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM result_spool WHERE run_id = ?`, s.runID).Scan(&count); err != nil {
		return 0, errs.Wrap(err, errs.CodeSpool, "count spool rows")
	}
	return count, nil
}

// Purge drops the run's rows once rendering has consumed them.
func (s *SQLite) Purge() error {
	if s == nil || s.db == nil {
		return errs.New(errs.CodeSpool, "spool not initialized")
	}
	if _, err := s.db.Exec(`DELETE FROM result_spool WHERE run_id = ?`, s.runID); err != nil {
		return errs.Wrap(err, errs.CodeSpool, "purge spool rows")
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
