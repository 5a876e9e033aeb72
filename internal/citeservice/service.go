// Package citeservice is the application layer shared by the HTTP API, the
// MCP server and the CLI.
package citeservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/directive"
	"github.com/starford/bibcite/internal/library"
	"github.com/starford/bibcite/internal/models"
	"github.com/starford/bibcite/internal/render"
	"github.com/starford/bibcite/internal/sse"
	"github.com/starford/bibcite/internal/storage"
	"github.com/starford/bibcite/internal/style"
)

// Asset kinds.
const (
	KindStyle    = "style"
	KindTemplate = "template"
)

// Publisher receives service notifications.
type Publisher interface {
	Publish(event sse.Event)
	PublishAssetEvent(kind, name, op string)
}

// LibraryLister enumerates stored library scopes.
type LibraryLister interface {
	Libraries(ctx context.Context) ([]models.LibraryInfo, error)
}

// Catalog lists the styles and templates a directive may name.
type Catalog struct {
	Styles    []string `json:"styles"`
	Templates []string `json:"templates"`
}

// Service coordinates library synchronisation, rendering and the user asset
// directories.
type Service struct {
	libs      *library.Synchronizer
	lister    LibraryLister
	renderer  *render.Renderer
	doc       *directive.Document
	defaults  directive.Defaults
	styles    storage.Provider
	templates storage.Provider
	events    Publisher
	logger    *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithAssets sets the user style and template directories. Either may be nil,
// in which case uploads of that kind are rejected.
func WithAssets(styles, templates storage.Provider) Option {
	return func(s *Service) {
		s.styles = styles
		s.templates = templates
	}
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new citation service.
func NewService(libs *library.Synchronizer, lister LibraryLister, r *render.Renderer, proc *directive.Processor, opts ...Option) *Service {
	s := &Service{
		libs:     libs,
		lister:   lister,
		renderer: r,
		doc:      directive.NewDocument(proc),
		defaults: proc.Defaults(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RenderMarkup expands every directive in content. docID scopes bibshow
// numbering; empty means a fresh anonymous document.
func (s *Service) RenderMarkup(ctx context.Context, docID, content string) string {
	return s.doc.Process(ctx, docID, content)
}

// libraryURL resolves an empty url to the configured default library and
// rejects urls outside the host policy.
func (s *Service) libraryURL(url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = s.defaults.LibraryURL
	}
	if url == "" {
		return "", fmt.Errorf("%w: no library url given and no default configured", apperr.ErrInvalidEntry)
	}
	if err := s.libs.Allowed(url); err != nil {
		return "", err
	}
	return url, nil
}

// GetEntry returns one CSL record from a library.
func (s *Service) GetEntry(ctx context.Context, url, key string) (models.Record, error) {
	url, err := s.libraryURL(url)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", apperr.ErrInvalidEntry)
	}
	return s.libs.GetOrUpdate(ctx, url).Get(ctx, key)
}

// SearchEntries matches query against keys and record text.
func (s *Service) SearchEntries(ctx context.Context, url, query string, limit int) ([]models.Record, error) {
	url, err := s.libraryURL(url)
	if err != nil {
		return nil, err
	}
	recs, err := s.libs.GetOrUpdate(ctx, url).Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.Record{}
	}
	return recs, nil
}

// ListKeys returns every citation key of a library.
func (s *Service) ListKeys(ctx context.Context, url string) ([]string, error) {
	url, err := s.libraryURL(url)
	if err != nil {
		return nil, err
	}
	keys, err := s.libs.GetOrUpdate(ctx, url).Keys(ctx)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Libraries lists every stored library scope.
func (s *Service) Libraries(ctx context.Context) ([]models.LibraryInfo, error) {
	libs, err := s.lister.Libraries(ctx)
	if err != nil {
		return nil, err
	}
	if libs == nil {
		libs = []models.LibraryInfo{}
	}
	return libs, nil
}

// RefreshLibrary re-downloads a library, bypassing the dormancy window.
func (s *Service) RefreshLibrary(ctx context.Context, url string) (library.Result, error) {
	url, err := s.libraryURL(url)
	if err != nil {
		return library.Result{}, err
	}
	_, res, err := s.libs.Refresh(ctx, url)
	return res, err
}

// ClearCache forgets fetch state, stored libraries and compiled assets.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.libs.ClearAll(ctx); err != nil {
		return err
	}
	s.renderer.Invalidate()
	s.logger.Info("cache cleared")
	if s.events != nil {
		s.events.Publish(sse.Event{Type: sse.TypeCacheCleared, Data: map[string]string{}})
	}
	return nil
}

// Catalog lists built-in and user styles and templates.
func (s *Service) Catalog() Catalog {
	return Catalog{
		Styles:    s.renderer.StyleNames(),
		Templates: s.renderer.TemplateNames(),
	}
}

func (s *Service) assets(kind string) (storage.Provider, error) {
	var p storage.Provider
	switch kind {
	case KindStyle:
		p = s.styles
	case KindTemplate:
		p = s.templates
	default:
		return nil, fmt.Errorf("%w: unknown asset kind %q", apperr.ErrInvalidName, kind)
	}
	if p == nil {
		return nil, fmt.Errorf("%s directory: %w", kind, apperr.ErrNotFound)
	}
	return p, nil
}

// GetAsset returns the source of a user style or template.
func (s *Service) GetAsset(kind, name string) ([]byte, error) {
	p, err := s.assets(kind)
	if err != nil {
		return nil, err
	}
	return p.Read(name)
}

// PutAsset validates and stores a user style or template. A style must be a
// parseable CSL document and a template must compile.
func (s *Service) PutAsset(kind, name string, content []byte) error {
	p, err := s.assets(kind)
	if err != nil {
		return err
	}
	if !storage.ValidName(name) {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidName, name)
	}
	switch kind {
	case KindStyle:
		if _, err := style.ParseBytes(name, content); err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrUnknownStyle, err)
		}
	case KindTemplate:
		if err := render.CheckTemplate(name, content); err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrUnknownTemplate, err)
		}
	}
	if err := p.Write(name, content); err != nil {
		return err
	}
	s.assetChanged(kind, name, "updated")
	return nil
}

// DeleteAsset removes a user style or template.
func (s *Service) DeleteAsset(kind, name string) error {
	p, err := s.assets(kind)
	if err != nil {
		return err
	}
	if err := p.Delete(name); err != nil {
		return err
	}
	s.assetChanged(kind, name, "deleted")
	return nil
}

func (s *Service) assetChanged(kind, name, op string) {
	s.renderer.Invalidate()
	s.logger.Info("asset changed", slog.String("kind", kind), slog.String("name", name), slog.String("op", op))
	if s.events != nil {
		s.events.PublishAssetEvent(kind, name, op)
	}
}

// IsClientError reports whether err stems from bad input rather than a
// failure of the service.
func IsClientError(err error) bool {
	return errors.Is(err, apperr.ErrInvalidEntry) ||
		errors.Is(err, apperr.ErrInvalidName) ||
		errors.Is(err, apperr.ErrUnknownStyle) ||
		errors.Is(err, apperr.ErrUnknownTemplate) ||
		errors.Is(err, apperr.ErrURLNotAllowed)
}
