// Package library keeps the local citation store in step with remote
// library files: fetch, detect change by hash, parse, convert and upsert.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/bibtex"
	"github.com/starford/bibcite/internal/checksum"
	"github.com/starford/bibcite/internal/convert"
	"github.com/starford/bibcite/internal/models"
	"github.com/starford/bibcite/internal/store"
)

// Source formats.
const (
	FormatAuto    = "auto"
	FormatBibTeX  = "bibtex"
	FormatCSLJSON = "csl-json"
)

// Fetcher returns the current body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, force bool) []byte
}

// Parser turns BibTeX text into entries; failures yield no entries.
type Parser interface {
	ParseString(text string) []bibtex.Entry
}

// Converter maps one BibTeX entry to a CSL record.
type Converter interface {
	Convert(e bibtex.Entry) (models.Record, error)
}

// HashStore records the hash of the last body parsed for a URL.
type HashStore interface {
	ParsedHash(ctx context.Context, url string) (string, error)
	SaveParsedHash(ctx context.Context, url, hash string) error
}

// Handle gives read access to one library scope.
type Handle struct {
	URL     string
	ScopeID string
	store   store.LibraryStore
	logger  *slog.Logger
}

// Get returns the record stored under key.
func (h Handle) Get(ctx context.Context, key string) (models.Record, error) {
	return h.store.Get(ctx, h.ScopeID, key)
}

// Lookup returns the record stored under key, or nil when it is absent or
// cannot be read.
func (h Handle) Lookup(ctx context.Context, key string) models.Record {
	rec, err := h.store.Get(ctx, h.ScopeID, key)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			h.logger.Warn("lookup failed", "url", h.URL, "key", key, "error", err)
		}
		return nil
	}
	return rec
}

// Keys lists the keys stored in the scope.
func (h Handle) Keys(ctx context.Context) ([]string, error) {
	return h.store.Keys(ctx, h.ScopeID)
}

// Search finds records in the scope whose content matches query.
func (h Handle) Search(ctx context.Context, query string, limit int) ([]models.Record, error) {
	return h.store.Search(ctx, h.ScopeID, query, limit)
}

// Result summarises one synchronisation.
type Result struct {
	URL     string `json:"url"`
	ScopeID string `json:"scope_id"`
	Format  string `json:"format,omitempty"`
	Changed bool   `json:"changed"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
	Hash    string `json:"hash,omitempty"`
}

// Synchronizer orchestrates Fetcher → hash check → Parser → Converter →
// store. It is safe for concurrent use; syncs of the same URL are collapsed.
type Synchronizer struct {
	fetcher Fetcher
	store   store.LibraryStore
	hashes  HashStore
	parser  Parser
	conv    Converter
	format  string
	policy  *HostPolicy
	onSync  func(Result)
	logger  *slog.Logger

	handles sync.Map // url -> Handle
	group   singleflight.Group
}

// Option customises a Synchronizer.
type Option func(*Synchronizer)

// WithParser replaces the BibTeX parser.
func WithParser(p Parser) Option {
	return func(s *Synchronizer) { s.parser = p }
}

// WithConverter replaces the BibTeX to CSL converter.
func WithConverter(c Converter) Option {
	return func(s *Synchronizer) { s.conv = c }
}

// WithFormat forces a source format instead of detecting it.
func WithFormat(format string) Option {
	return func(s *Synchronizer) {
		if format != "" {
			s.format = format
		}
	}
}

// WithHostPolicy restricts the URLs the synchronizer fetches and stores.
// Without it any http(s) URL is accepted.
func WithHostPolicy(p *HostPolicy) Option {
	return func(s *Synchronizer) { s.policy = p }
}

// WithOnSync registers a callback invoked after every sync that changed the
// library.
func WithOnSync(fn func(Result)) Option {
	return func(s *Synchronizer) { s.onSync = fn }
}

// NewSynchronizer wires a Synchronizer.
func NewSynchronizer(f Fetcher, st store.LibraryStore, hashes HashStore, logger *slog.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "library"))
	s := &Synchronizer{
		fetcher: f,
		store:   st,
		hashes:  hashes,
		parser:  bibtex.NewParser(logger),
		conv:    convert.New(logger),
		format:  FormatAuto,
		logger:  logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrUpdate returns the handle for url after bringing the scope up to date.
// Fetch or parse failures are logged; the handle still serves whatever was
// stored before. A URL the host policy rejects is neither fetched nor stored
// and its handle reads as empty.
func (s *Synchronizer) GetOrUpdate(ctx context.Context, url string) Handle {
	h, _, _ := s.sync(ctx, url, false)
	return h
}

// Refresh is GetOrUpdate with the dormancy window bypassed.
func (s *Synchronizer) Refresh(ctx context.Context, url string) (Handle, Result, error) {
	return s.sync(ctx, url, true)
}

// Allowed reports whether url may be fetched and stored.
func (s *Synchronizer) Allowed(url string) error {
	return s.policy.Check(url)
}

// ClearAll drops every stored library and forgets known handles.
func (s *Synchronizer) ClearAll(ctx context.Context) error {
	defer s.handles.Clear()
	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("library: clear: %w", err)
	}
	return nil
}

func (s *Synchronizer) newHandle(url string) Handle {
	if v, ok := s.handles.Load(url); ok {
		return v.(Handle)
	}
	h := Handle{URL: url, ScopeID: checksum.ScopeID(url), store: s.store, logger: s.logger}
	s.handles.Store(url, h)
	return h
}

// handle returns the handle for url with its scope present. The scope is
// ensured on every call since a cache clear, here or in another process
// sharing the database, may have dropped it.
func (s *Synchronizer) handle(ctx context.Context, url string) Handle {
	h := s.newHandle(url)
	if err := s.store.EnsureScope(ctx, h.ScopeID, url); err != nil {
		s.logger.Error("ensure scope failed", "url", url, "error", err)
	}
	return h
}

type syncOutcome struct {
	h   Handle
	res Result
}

func (s *Synchronizer) sync(ctx context.Context, url string, force bool) (Handle, Result, error) {
	if err := s.Allowed(url); err != nil {
		s.logger.Warn("library url rejected", "url", url, "error", err)
		h := Handle{URL: url, ScopeID: checksum.ScopeID(url), store: s.store, logger: s.logger}
		return h, Result{URL: url, ScopeID: h.ScopeID}, err
	}
	key := url
	if force {
		key = "force\x00" + url
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		h, res, err := s.update(ctx, url, force)
		return syncOutcome{h, res}, err
	})
	out := v.(syncOutcome)
	return out.h, out.res, err
}

func (s *Synchronizer) update(ctx context.Context, url string, force bool) (Handle, Result, error) {
	h := s.handle(ctx, url)
	res := Result{URL: url, ScopeID: h.ScopeID}

	body := s.fetcher.Fetch(ctx, url, force)
	if len(body) == 0 {
		return h, res, nil
	}

	res.Hash = checksum.Sum(body)
	last, err := s.hashes.ParsedHash(ctx, url)
	if err != nil {
		s.logger.Warn("read parsed hash failed", "url", url, "error", err)
	}
	if last == res.Hash {
		return h, res, nil
	}

	res.Changed = true
	res.Format = s.detect(body)
	var records []keyedRecord
	switch res.Format {
	case FormatCSLJSON:
		records, res.Skipped = s.decodeCSL(url, body)
	default:
		records, res.Skipped = s.decodeBibTeX(body)
	}

	var errs []error
	for _, kr := range records {
		if err := s.store.Upsert(ctx, h.ScopeID, kr.key, kr.rec); err != nil {
			errs = append(errs, fmt.Errorf("upsert %s: %w", kr.key, err))
			continue
		}
		res.Stored++
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("library sync incomplete", "url", url, "stored", res.Stored, "error", err)
		return h, res, fmt.Errorf("library: sync %s: %w", url, err)
	}

	if err := s.hashes.SaveParsedHash(ctx, url, res.Hash); err != nil {
		s.logger.Warn("save parsed hash failed", "url", url, "error", err)
	}
	s.logger.Info("library synced", "url", url, "format", res.Format,
		"stored", res.Stored, "skipped", res.Skipped)
	if s.onSync != nil {
		s.onSync(res)
	}
	return h, res, nil
}

func (s *Synchronizer) detect(body []byte) string {
	if s.format != FormatAuto {
		return s.format
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		return FormatCSLJSON
	}
	return FormatBibTeX
}

type keyedRecord struct {
	key string
	rec models.Record
}

func (s *Synchronizer) decodeBibTeX(body []byte) ([]keyedRecord, int) {
	var (
		out     []keyedRecord
		skipped int
	)
	for _, e := range s.parser.ParseString(string(body)) {
		rec, err := s.conv.Convert(e)
		if err != nil {
			s.logger.Warn("skipping entry", "key", e.Key, "type", e.Type, "error", err)
			skipped++
			continue
		}
		out = append(out, keyedRecord{key: e.Key, rec: rec})
	}
	return out, skipped
}

func (s *Synchronizer) decodeCSL(url string, body []byte) ([]keyedRecord, int) {
	var raw []models.Record
	if err := json.Unmarshal(body, &raw); err != nil {
		s.logger.Error("csl-json decode failed", "url", url, "error", err)
		return nil, 0
	}
	var (
		out     []keyedRecord
		skipped int
	)
	for i, rec := range raw {
		id := rec.ID()
		if id == "" {
			s.logger.Warn("skipping csl record without id", "url", url, "index", i)
			skipped++
			continue
		}
		out = append(out, keyedRecord{key: id, rec: rec})
	}
	return out, skipped
}
