package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/bibcite/internal/models"
)

// FetchState returns the stored fetch metadata for url. The boolean is false
// when the URL has never been fetched.
func (db *DB) FetchState(ctx context.Context, url string) (models.FetchState, bool, error) {
	var (
		st        = models.FetchState{URL: url}
		fetchedAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT etag, fetched_at, body, body_hash FROM fetch_state WHERE url = ?`, url,
	).Scan(&st.ETag, &fetchedAt, &st.Body, &st.BodyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, false, nil
		}
		return st, false, fmt.Errorf("store: fetch state: %w", err)
	}
	if !fetchedAt.Valid {
		// Row exists only because a parsed hash was recorded.
		return st, false, nil
	}
	st.FetchedAt = fetchedAt.Time
	return st, true, nil
}

// SaveFetchState records etag and fetch time for st.URL. A nil Body keeps the
// previously stored body and its hash.
func (db *DB) SaveFetchState(ctx context.Context, st models.FetchState) error {
	var body any
	if st.Body != nil {
		body = st.Body
	}
	fetchedAt := st.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO fetch_state (url, etag, fetched_at, body, body_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			etag       = excluded.etag,
			fetched_at = excluded.fetched_at,
			body       = COALESCE(excluded.body, fetch_state.body),
			body_hash  = CASE WHEN excluded.body IS NULL THEN fetch_state.body_hash ELSE excluded.body_hash END
	`, st.URL, st.ETag, fetchedAt.UTC(), body, st.BodyHash)
	if err != nil {
		return fmt.Errorf("store: save fetch state: %w", err)
	}
	return nil
}

// ParsedHash returns the hash of the body last parsed into the library for
// url, or "" if none.
func (db *DB) ParsedHash(ctx context.Context, url string) (string, error) {
	var h string
	err := db.conn.QueryRowContext(ctx, `SELECT parsed_hash FROM fetch_state WHERE url = ?`, url).Scan(&h)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("store: parsed hash: %w", err)
	}
	return h, nil
}

// SaveParsedHash records the hash of the body last parsed for url.
func (db *DB) SaveParsedHash(ctx context.Context, url, hash string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO fetch_state (url, parsed_hash) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET parsed_hash = excluded.parsed_hash
	`, url, hash)
	if err != nil {
		return fmt.Errorf("store: save parsed hash: %w", err)
	}
	return nil
}

// ClearFetchStates forgets every URL's fetch metadata.
func (db *DB) ClearFetchStates(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM fetch_state`); err != nil {
		return fmt.Errorf("store: clear fetch state: %w", err)
	}
	return nil
}
