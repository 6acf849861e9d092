// Package store provides SQLite-backed persistence for generated records,
// the reference role and batch run bookkeeping.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS records (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL DEFAULT '',
	view_id        TEXT NOT NULL DEFAULT '',
	view_label     TEXT NOT NULL DEFAULT '',
	sequence_index INTEGER NOT NULL DEFAULT 0,
	attempts       INTEGER NOT NULL DEFAULT 0,
	kind           TEXT NOT NULL DEFAULT 'scenes',
	payload        TEXT NOT NULL,
	units_json     TEXT NOT NULL DEFAULT '[]',
	promoted       INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id, sequence_index);

CREATE TABLE IF NOT EXISTS reference_role (
	role_key    TEXT PRIMARY KEY,
	record_id   TEXT NOT NULL REFERENCES records(id),
	promoted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_runs (
	run_id          TEXT PRIMARY KEY,
	mode            TEXT NOT NULL DEFAULT 'sequential',
	status          TEXT NOT NULL DEFAULT 'running',
	total           INTEGER NOT NULL DEFAULT 0,
	succeeded       INTEGER NOT NULL DEFAULT 0,
	failed          INTEGER NOT NULL DEFAULT 0,
	canceled        INTEGER NOT NULL DEFAULT 0,
	state_version   INTEGER NOT NULL DEFAULT 1,
	last_event_seq  INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS batch_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	seq_no     INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	view_id    TEXT NOT NULL DEFAULT '',
	item_index INTEGER NOT NULL DEFAULT 0,
	total      INTEGER NOT NULL DEFAULT 0,
	outcome    TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	record_id  TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_batch_events_run_seq ON batch_events(run_id, seq_no);

CREATE TABLE IF NOT EXISTS audit_records (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}',
	severity    TEXT NOT NULL DEFAULT 'info',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_records(run_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; every repo call must use the tx it is given.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
