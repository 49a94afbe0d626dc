// Package offline is the device-side half of case record sync: a SQLite
// outbox of pending operations, per-record drafts and the syncer that pushes
// the outbox to the server.
package offline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS case_record_drafts (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_ops (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	op_id          TEXT NOT NULL UNIQUE,
	dedupe_key     TEXT NOT NULL,
	operation_type TEXT NOT NULL,
	service_id     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	record_date    TEXT NOT NULL,
	payload        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'done', 'failed')),
	attempts       INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_ops_pending_dedupe
	ON outbox_ops (dedupe_key) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_outbox_ops_status_created
	ON outbox_ops (status, created_at, seq);

CREATE TABLE IF NOT EXISTS sync_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is the device-local database. Open one per process and share it.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY inside transactions.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
