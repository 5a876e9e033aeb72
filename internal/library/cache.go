package library

import (
	"context"
	"sync"

	"github.com/starford/bibcite/internal/models"
	"github.com/starford/bibcite/internal/store"
)

// CachedStore layers a process-lifetime read cache over a LibraryStore.
// Entries are keyed by (scope id, key) and dropped on Upsert and ClearAll.
type CachedStore struct {
	store.LibraryStore
	cache sync.Map // cacheKey -> models.Record
}

type cacheKey struct {
	scope, key string
}

// NewCachedStore wraps s.
func NewCachedStore(s store.LibraryStore) *CachedStore {
	return &CachedStore{LibraryStore: s}
}

// Get returns the cached record or loads it from the underlying store.
func (c *CachedStore) Get(ctx context.Context, scopeID, key string) (models.Record, error) {
	k := cacheKey{scopeID, key}
	if v, ok := c.cache.Load(k); ok {
		return v.(models.Record), nil
	}
	rec, err := c.LibraryStore.Get(ctx, scopeID, key)
	if err != nil {
		return nil, err
	}
	c.cache.Store(k, rec)
	return rec, nil
}

// Upsert writes through and invalidates the cached entry.
func (c *CachedStore) Upsert(ctx context.Context, scopeID, key string, rec models.Record) error {
	c.cache.Delete(cacheKey{scopeID, key})
	return c.LibraryStore.Upsert(ctx, scopeID, key, rec)
}

// ClearAll clears the underlying store and the cache.
func (c *CachedStore) ClearAll(ctx context.Context) error {
	defer c.cache.Clear()
	return c.LibraryStore.ClearAll(ctx)
}

var _ store.LibraryStore = (*CachedStore)(nil)
