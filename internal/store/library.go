package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/models"
)

// EnsureScope creates the table for scopeID if it does not exist and records
// which URL it belongs to. Safe to call repeatedly.
func (db *DB) EnsureScope(ctx context.Context, scopeID, url string) error {
	table, err := tableName(scopeID)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			csl_key    TEXT PRIMARY KEY,
			csl_value  TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, table))
	if err != nil {
		return fmt.Errorf("store: create scope table: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO libraries (scope_id, url) VALUES (?, ?) ON CONFLICT(scope_id) DO NOTHING`,
		scopeID, url)
	if err != nil {
		return fmt.Errorf("store: register scope: %w", err)
	}
	return nil
}

// Upsert replaces the record stored under key in full.
func (db *DB) Upsert(ctx context.Context, scopeID, key string, rec models.Record) error {
	table, err := tableName(scopeID)
	if err != nil {
		return err
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record %s: %w", key, err)
	}
	_, err = db.conn.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (csl_key, csl_value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(csl_key) DO UPDATE SET
			csl_value  = excluded.csl_value,
			updated_at = excluded.updated_at
	`, table), key, string(value))
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", key, err)
	}
	return nil
}

// Get returns the record stored under key, or apperr.ErrNotFound.
func (db *DB) Get(ctx context.Context, scopeID, key string) (models.Record, error) {
	table, err := tableName(scopeID)
	if err != nil {
		return nil, err
	}
	var value string
	err = db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT csl_value FROM %s WHERE csl_key = ?`, table), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isNoSuchTable(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return decodeRecord(value)
}

// Keys returns every citation key in the scope, sorted.
func (db *DB) Keys(ctx context.Context, scopeID string) ([]string, error) {
	table, err := tableName(scopeID)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`SELECT csl_key FROM %s ORDER BY csl_key`, table))
	if err != nil {
		if isNoSuchTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Search performs a LIKE match over the stored CSL JSON of one scope.
func (db *DB) Search(ctx context.Context, scopeID, query string, limit int) ([]models.Record, error) {
	table, err := tableName(scopeID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT csl_value FROM %s
		WHERE csl_key LIKE ? OR csl_value LIKE ?
		ORDER BY csl_key
		LIMIT ?
	`, table), like, like, limit)
	if err != nil {
		if isNoSuchTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Libraries lists every registered scope with its entry count.
func (db *DB) Libraries(ctx context.Context) ([]models.LibraryInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT l.scope_id, l.url, COALESCE(f.parsed_hash, '')
		FROM libraries l LEFT JOIN fetch_state f ON f.url = l.url
		ORDER BY l.url
	`)
	if err != nil {
		return nil, fmt.Errorf("store: libraries: %w", err)
	}
	var out []models.LibraryInfo
	for rows.Next() {
		var li models.LibraryInfo
		if err := rows.Scan(&li.ScopeID, &li.URL, &li.LastHash); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, li)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		table, err := tableName(out[i].ScopeID)
		if err != nil {
			continue
		}
		var n int
		if err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n); err == nil {
			out[i].Entries = n
		}
	}
	return out, nil
}

// ClearAll drops every scope table and forgets all fetch state, returning the
// store to its first-run state.
func (db *DB) ClearAll(ctx context.Context) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ?`, libraryTablePrefix+"%")
	if err != nil {
		return fmt.Errorf("store: list scope tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, name := range tables {
		if !scopeIDRe.MatchString(strings.TrimPrefix(name, libraryTablePrefix)) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
			return fmt.Errorf("store: drop %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM libraries`); err != nil {
		return fmt.Errorf("store: clear libraries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fetch_state`); err != nil {
		return fmt.Errorf("store: clear fetch state: %w", err)
	}
	return tx.Commit()
}

func decodeRecord(value string) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return rec, nil
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
