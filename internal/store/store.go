package store

import (
	"context"

	"github.com/starford/bibcite/internal/models"
)

// LibraryStore is the durable keyed store of CSL records, partitioned by
// scope id. Consumers depend on this interface rather than *DB.
type LibraryStore interface {
	EnsureScope(ctx context.Context, scopeID, url string) error
	Upsert(ctx context.Context, scopeID, key string, rec models.Record) error
	Get(ctx context.Context, scopeID, key string) (models.Record, error)
	Keys(ctx context.Context, scopeID string) ([]string, error)
	Search(ctx context.Context, scopeID, query string, limit int) ([]models.Record, error)
	Libraries(ctx context.Context) ([]models.LibraryInfo, error)
	ClearAll(ctx context.Context) error
}

// FetchStateStore persists per-URL fetch metadata and the hash of the last
// body that was parsed into the library.
type FetchStateStore interface {
	FetchState(ctx context.Context, url string) (models.FetchState, bool, error)
	SaveFetchState(ctx context.Context, st models.FetchState) error
	ParsedHash(ctx context.Context, url string) (string, error)
	SaveParsedHash(ctx context.Context, url, hash string) error
	ClearFetchStates(ctx context.Context) error
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ LibraryStore    = (*DB)(nil)
	_ FetchStateStore = (*DB)(nil)
)
