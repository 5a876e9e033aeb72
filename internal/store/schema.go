// Package store provides the SQLite-backed durable state: one table per
// library scope plus a small fetch_state area keyed by URL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/bibcite/internal/apperr"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS libraries (
	scope_id   TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS fetch_state (
	url         TEXT PRIMARY KEY,
	etag        TEXT NOT NULL DEFAULT '',
	fetched_at  DATETIME,
	body        BLOB,
	body_hash   TEXT NOT NULL DEFAULT '',
	parsed_hash TEXT NOT NULL DEFAULT ''
);
`

// libraryTablePrefix prefixes every per-scope table.
const libraryTablePrefix = "library_"

var scopeIDRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

// DB wraps a sql.DB with library and fetch-state operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// tableName returns the per-scope table name, rejecting anything that is not
// a well-formed scope id so it can be embedded in SQL text.
func tableName(scopeID string) (string, error) {
	if !scopeIDRe.MatchString(scopeID) {
		return "", fmt.Errorf("store: scope id %q: %w", scopeID, apperr.ErrInvalidName)
	}
	return libraryTablePrefix + scopeID, nil
}
