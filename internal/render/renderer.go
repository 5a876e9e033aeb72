// Package render turns resolved citation records into list markup: each
// record is rendered alone with a CSL style and the results are fed to a list
// template.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"log/slog"
	"sort"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/models"
	"github.com/starford/bibcite/internal/storage"
	"github.com/starford/bibcite/internal/style"
)

const (
	// UnknownKey is the key reported for slots whose record could not be found.
	UnknownKey = "unknown_key"
	// DefaultStyle is used when no default style is configured.
	DefaultStyle = "ieee"

	unknownMarkup   = template.HTML(`<span style='color:gray'>Unknown entry</span>`)
	exceptionMarkup = template.HTML(`<span class="bibcite-exception" style='color:red'>Exception while rendering entry</span>`)
	errorFormat     = `<span class="bibcite-error" style='color:red'>Error rendering entry: %s</span>`
)

// Engine renders a collection of records with a compiled style.
type Engine interface {
	Render(st *style.Style, records []models.Record, mode string) ([]string, error)
}

// Item is one slot to render. A nil Record renders the unknown-entry marker.
type Item struct {
	Index  int
	Record models.Record
}

// RenderedEntry is the per-record result handed to templates.
type RenderedEntry struct {
	Index int
	Key   string
	CSL   string
	Entry template.HTML
}

// Renderer is safe for concurrent use.
type Renderer struct {
	logger       *slog.Logger
	engine       Engine
	styles       storage.Provider
	templates    storage.Provider
	defaultStyle string
	policy       *bluemonday.Policy

	compiled sync.Map // style name -> *style.Style
	tmpls    sync.Map // template name -> *template.Template
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithEngine replaces the style engine.
func WithEngine(e Engine) Option {
	return func(r *Renderer) { r.engine = e }
}

// WithStyles sets the user style directory, consulted before built-in styles.
func WithStyles(p storage.Provider) Option {
	return func(r *Renderer) { r.styles = p }
}

// WithTemplates sets the user template directory.
func WithTemplates(p storage.Provider) Option {
	return func(r *Renderer) { r.templates = p }
}

// WithDefaultStyle sets the style used when a requested one cannot be resolved.
func WithDefaultStyle(name string) Option {
	return func(r *Renderer) {
		if name != "" {
			r.defaultStyle = name
		}
	}
}

// New creates a Renderer.
func New(logger *slog.Logger, opts ...Option) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("span")
	policy.AllowAttrs("class").OnElements("span")

	r := &Renderer{
		logger:       logger,
		engine:       style.Engine{},
		defaultStyle: DefaultStyle,
		policy:       policy,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render renders items in order with the named style and applies the named
// template. Unknown styles and templates fall back to defaults. A template
// failure yields "".
func (r *Renderer) Render(items []Item, styleName, templateName string) string {
	st := r.Style(styleName)
	tmpl := r.Template(templateName)

	entries := make([]RenderedEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, r.renderEntry(st, it))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Entries []RenderedEntry }{entries}); err != nil {
		r.logger.Error("template execution failed", "template", tmpl.Name(), "error", err)
		return ""
	}
	return buf.String()
}

// RenderRecords renders records indexed by their position.
func (r *Renderer) RenderRecords(records []models.Record, styleName, templateName string) string {
	items := make([]Item, len(records))
	for i, rec := range records {
		items[i] = Item{Index: i, Record: rec}
	}
	return r.Render(items, styleName, templateName)
}

func (r *Renderer) renderEntry(st *style.Style, it Item) (re RenderedEntry) {
	re = RenderedEntry{Index: it.Index, Key: UnknownKey, CSL: "null", Entry: unknownMarkup}
	if len(it.Record) == 0 {
		return re
	}
	if k := it.Record.Key(); k != "" {
		re.Key = k
	}
	re.CSL = it.Record.JSON()
	if st == nil {
		re.Entry = template.HTML(fmt.Sprintf(errorFormat, "no style available"))
		return re
	}

	rec := it.Record.Clone()
	rec["citation-number"] = it.Index + 1

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("style engine panicked", "key", re.Key, "style", st.Name, "panic", p)
			re.Entry = exceptionMarkup
		}
	}()

	out, err := r.engine.Render(st, []models.Record{rec}, style.ModeCitation)
	if err == nil && len(out) != 1 {
		err = fmt.Errorf("engine returned %d fragments for one record", len(out))
	}
	if err != nil {
		r.logger.Warn("entry render failed", "key", re.Key, "style", st.Name, "error", err)
		re.Entry = template.HTML(fmt.Sprintf(errorFormat, html.EscapeString(err.Error())))
		return re
	}
	re.Entry = template.HTML(r.policy.Sanitize(out[0]))
	return re
}

// Style resolves a style: user directory first, then the built-in styles,
// then the default style with a warning.
func (r *Renderer) Style(name string) *style.Style {
	if name == "" {
		name = r.defaultStyle
	}
	if v, ok := r.compiled.Load(name); ok {
		return v.(*style.Style)
	}
	st, err := r.loadStyle(name)
	if err != nil {
		r.logger.Warn("style not found, using default", "style", name, "default", r.defaultStyle, "error", err)
		st, err = r.loadStyle(r.defaultStyle)
		if err != nil {
			r.logger.Error("default style unavailable", "style", r.defaultStyle, "error", err)
			st, err = style.Builtin(DefaultStyle)
			if err != nil {
				return nil
			}
		}
	}
	r.compiled.Store(name, st)
	return st
}

func (r *Renderer) loadStyle(name string) (*style.Style, error) {
	if r.styles != nil {
		data, err := r.styles.Read(name)
		if err == nil {
			st, perr := style.ParseBytes(name, data)
			if perr == nil {
				return st, nil
			}
			r.logger.Warn("user style invalid", "style", name, "error", perr)
		}
	}
	st, err := style.Builtin(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownStyle, name)
	}
	return st, nil
}

// Template resolves a template: user directory first, then the built-in
// templates, then the fallback list template with a warning.
func (r *Renderer) Template(name string) *template.Template {
	if name == "" {
		name = FallbackTemplate
	}
	if v, ok := r.tmpls.Load(name); ok {
		return v.(*template.Template)
	}
	t, err := r.loadTemplate(name)
	if err != nil {
		if name != FallbackTemplate {
			r.logger.Warn("template not found, using fallback", "template", name, "error", err)
		}
		t = fallbackTmpl
	}
	r.tmpls.Store(name, t)
	return t
}

func (r *Renderer) loadTemplate(name string) (*template.Template, error) {
	if r.templates != nil {
		data, err := r.templates.Read(name)
		if err == nil {
			t, perr := parseTemplate(name, string(data))
			if perr == nil {
				return t, nil
			}
			r.logger.Warn("user template invalid", "template", name, "error", perr)
		}
	}
	t, err := builtinTemplate(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownTemplate, name)
	}
	return t, nil
}

// Invalidate drops every compiled style and template.
func (r *Renderer) Invalidate() {
	r.compiled.Clear()
	r.tmpls.Clear()
}

// StyleNames lists built-in and user styles.
func (r *Renderer) StyleNames() []string {
	return r.names(style.BuiltinNames(), r.styles)
}

// TemplateNames lists built-in and user templates, including the fallback.
func (r *Renderer) TemplateNames() []string {
	return r.names(builtinTemplateNames(), r.templates)
}

func (r *Renderer) names(builtin []string, p storage.Provider) []string {
	seen := make(map[string]bool, len(builtin))
	out := append([]string(nil), builtin...)
	for _, n := range builtin {
		seen[n] = true
	}
	if p != nil {
		assets, err := p.List()
		if err != nil {
			r.logger.Warn("list assets failed", "root", p.Root(), "error", err)
		}
		for _, a := range assets {
			if !seen[a.Name] {
				seen[a.Name] = true
				out = append(out, a.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}
