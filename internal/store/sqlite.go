// Package store provides SQLite-backed persistence for the proto receiver
// and the device automatons.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS devices (
	device_id          INTEGER PRIMARY KEY AUTOINCREMENT,
	origin             TEXT NOT NULL UNIQUE,
	last_screen        TEXT NOT NULL DEFAULT 'UNDEFINED',
	last_cycle_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS accounts (
	account_id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username              TEXT NOT NULL UNIQUE,
	password              TEXT NOT NULL DEFAULT '',
	login_type            TEXT NOT NULL DEFAULT 'ptc',
	device_id             INTEGER NOT NULL DEFAULT 0,
	burn_type             TEXT NOT NULL DEFAULT '',
	burned_at_unix        INTEGER NOT NULL DEFAULT 0,
	last_softban_lat      REAL NOT NULL DEFAULT 0.0,
	last_softban_lng      REAL NOT NULL DEFAULT 0.0,
	last_softban_at_unix  INTEGER NOT NULL DEFAULT 0,
	last_logout_at_unix   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_accounts_device ON accounts(device_id);

CREATE TABLE IF NOT EXISTS latest_protos (
	origin             TEXT NOT NULL,
	proto_key          TEXT NOT NULL,
	timestamp_raw      INTEGER NOT NULL,
	timestamp_received INTEGER NOT NULL,
	payload            BLOB,
	lat                REAL NOT NULL DEFAULT 0.0,
	lng                REAL NOT NULL DEFAULT 0.0,
	PRIMARY KEY (origin, proto_key)
);

CREATE TABLE IF NOT EXISTS quests_held (
	origin     TEXT PRIMARY KEY,
	quests     TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS visited_stops (
	username   TEXT NOT NULL,
	fort_id    TEXT NOT NULL,
	visited_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (username, fort_id)
);

CREATE TABLE IF NOT EXISTS login_tracking (
	origin     TEXT PRIMARY KEY,
	count      INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ip_logins (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ip         TEXT NOT NULL,
	origin     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ip_logins_ip ON ip_logins(ip, created_at);

CREATE TABLE IF NOT EXISTS audit_records (
	id            TEXT PRIMARY KEY,
	origin        TEXT NOT NULL,
	category      TEXT NOT NULL,
	actor         TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	detail_json   TEXT NOT NULL DEFAULT '{}',
	severity      TEXT NOT NULL DEFAULT 'info',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_origin ON audit_records(origin);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
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
