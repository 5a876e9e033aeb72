// Package testutil provides shared test helpers for databases, asset
// directories and library servers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/starford/bibcite/internal/storage"
	"github.com/starford/bibcite/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	return OpenDB(t, TempDBPath(t))
}

// TempDBPath returns the path of a fresh temporary database file, removed
// when the test ends.
func TempDBPath(t *testing.T) string {
	t.Helper()
	dbFile, err := os.CreateTemp("", "bibcite-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	return dbFile.Name()
}

// OpenDB opens the database at path and closes it when the test ends. Opening
// one path twice gives two independent connections, like two processes.
func OpenDB(t *testing.T, path string) *store.DB {
	t.Helper()
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestAssets creates a temporary asset directory with a storage.Provider.
func TestAssets(t *testing.T, ext string) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	p, err := storage.NewFS(dir, ext)
	if err != nil {
		t.Fatal(err)
	}
	return dir, p
}

// LibraryServer serves a mutable library body over HTTP and counts requests.
type LibraryServer struct {
	*httptest.Server
	body     atomic.Value // string
	requests atomic.Int64
}

// NewLibraryServer starts a server returning body for every request.
func NewLibraryServer(t *testing.T, body string) *LibraryServer {
	t.Helper()
	ls := &LibraryServer{}
	ls.body.Store(body)
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ls.requests.Add(1)
		_, _ = w.Write([]byte(ls.body.Load().(string)))
	}))
	t.Cleanup(ls.Close)
	return ls
}

// SetBody replaces the served body.
func (ls *LibraryServer) SetBody(body string) { ls.body.Store(body) }

// Requests returns the number of requests served so far.
func (ls *LibraryServer) Requests() int64 { return ls.requests.Load() }
