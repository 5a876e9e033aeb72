// Package directive interprets the bibliography directives of a document:
// [bibshow] opens a numbered bibliography scope, [bibcite] cites into it and
// [bibtex] renders a standalone list.
package directive

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/bibcite/internal/library"
	"github.com/starford/bibcite/internal/models"
	"github.com/starford/bibcite/internal/render"
)

// Libraries resolves a library URL to an up-to-date handle.
type Libraries interface {
	GetOrUpdate(ctx context.Context, url string) library.Handle
}

// Renderer renders resolved slots with a style and a template.
type Renderer interface {
	Render(items []render.Item, style, template string) string
}

// scope is the state of a document between its opening and closing
// bibliography directive.
type scope struct {
	cfg   BibshowConfig
	table *KeyTable
}

// Processor holds one key table per open document scope. It is safe for
// concurrent use across documents; directives of one document must be
// processed in order.
type Processor struct {
	libs     Libraries
	renderer Renderer
	defaults Defaults
	logger   *slog.Logger

	mu   sync.Mutex
	docs map[string]*scope
}

// NewProcessor creates a Processor.
func NewProcessor(libs Libraries, r Renderer, d Defaults, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		libs:     libs,
		renderer: r,
		defaults: d,
		logger:   logger.With(slog.String("component", "directive")),
		docs:     map[string]*scope{},
	}
}

// Defaults returns the configured directive defaults.
func (p *Processor) Defaults() Defaults { return p.defaults }

// Open starts collecting citations for docID with an empty key table.
func (p *Processor) Open(docID string, cfg BibshowConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.docs[docID]; ok {
		p.logger.Warn("bibshow opened twice, restarting scope", "doc", docID)
	}
	p.docs[docID] = &scope{cfg: cfg, table: NewKeyTable()}
}

// Collecting reports whether docID has an open bibliography scope.
func (p *Processor) Collecting(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.docs[docID]
	return ok
}

// Keys returns the keys cited so far in docID, in first-seen order.
func (p *Processor) Keys(docID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.docs[docID]; ok {
		return st.table.Keys()
	}
	return nil
}

// Cite registers the directive's keys in the document table and renders just
// those keys in place. Without an open scope it logs and returns "".
func (p *Processor) Cite(ctx context.Context, docID string, cfg BibciteConfig) string {
	p.mu.Lock()
	st, ok := p.docs[docID]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("bibcite outside bibshow", "doc", docID, "keys", cfg.Keys)
		return ""
	}
	indices := make([]int, len(cfg.Keys))
	for i, k := range cfg.Keys {
		indices[i] = st.table.Add(k)
	}
	url := cfg.File
	if url == "" {
		url = st.cfg.File
	}
	p.mu.Unlock()

	if len(cfg.Keys) == 0 {
		p.logger.Warn("bibcite without keys", "doc", docID)
		return ""
	}
	records := p.records(ctx, url, cfg.Keys)
	items := make([]render.Item, len(cfg.Keys))
	for i, rec := range records {
		items[i] = render.Item{Index: indices[i], Record: rec}
	}
	return p.renderer.Render(items, cfg.Style, cfg.Template)
}

// Close ends the scope of docID and appends the bibliography of every cited
// key, in first-seen order, to content.
func (p *Processor) Close(ctx context.Context, docID, content string) string {
	p.mu.Lock()
	st, ok := p.docs[docID]
	delete(p.docs, docID)
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("bibshow closed without being opened", "doc", docID)
		return content
	}
	keys := st.table.Keys()
	if len(keys) == 0 {
		return content
	}

	records := p.records(ctx, st.cfg.File, keys)
	items := make([]render.Item, len(keys))
	for i, rec := range records {
		items[i] = render.Item{Index: i, Record: rec}
	}
	return content + p.renderer.Render(items, st.cfg.Style, st.cfg.Template)
}

// Standalone renders an explicit key list without touching any document
// scope, optionally sorted by a CSL field.
func (p *Processor) Standalone(ctx context.Context, cfg BibtexConfig) string {
	if len(cfg.Keys) == 0 {
		p.logger.Warn("bibtex without keys")
		return ""
	}
	records := p.records(ctx, cfg.File, cfg.Keys)
	if cfg.Sort != "" {
		p.sortRecords(records, cfg.Sort, cfg.Descending)
	}
	items := make([]render.Item, len(records))
	for i, rec := range records {
		items[i] = render.Item{Index: i, Record: rec}
	}
	return p.renderer.Render(items, cfg.Style, cfg.Template)
}

// records resolves keys in order against the library at url. Without a url
// the library is never consulted and every slot stays empty.
func (p *Processor) records(ctx context.Context, url string, keys []string) []models.Record {
	out := make([]models.Record, len(keys))
	if url == "" {
		p.logger.Warn("no library url for directive, rendering unknown entries", "keys", keys)
		return out
	}
	lib := p.libs.GetOrUpdate(ctx, url)
	for i, k := range keys {
		out[i] = p.lookup(ctx, lib, k)
	}
	return out
}

func (p *Processor) lookup(ctx context.Context, lib library.Handle, key string) models.Record {
	rec := lib.Lookup(ctx, key)
	if rec == nil {
		p.logger.Warn("citation key not found", "key", key, "url", lib.URL)
	}
	return rec
}

// sortRecords orders records by the JSON encoding of field, compared as
// strings. Records without the field keep their relative order after those
// that have it. If no record has the field the order is left unchanged.
func (p *Processor) sortRecords(records []models.Record, field string, desc bool) {
	reprs := make([][]byte, len(records))
	sortable := false
	for i, rec := range records {
		v, ok := rec[field]
		if !ok {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		reprs[i] = b
		sortable = true
	}
	if !sortable {
		p.logger.Warn("sort field not present in any record, keeping order", "field", field)
		return
	}

	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := reprs[idx[a]], reprs[idx[b]]
		switch {
		case ra == nil || rb == nil:
			return ra != nil && rb == nil
		case desc:
			return bytes.Compare(ra, rb) > 0
		default:
			return bytes.Compare(ra, rb) < 0
		}
	})

	sorted := make([]models.Record, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
}
