package directive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/starford/bibcite/internal/library"
	"github.com/starford/bibcite/internal/render"
	"github.com/starford/bibcite/internal/shortcode"
	"github.com/starford/bibcite/internal/testutil"
)

const libURL = "https://example.org/lib.json"

const cslLibrary = `[{"id":"smith2020","type":"book","title":"Foo","issued":{"date-parts":[[2020]]}},` +
	`{"id":"jones2019","type":"book","title":"Bar","issued":{"date-parts":[[2019]]}},` +
	`{"id":"lee2021","type":"book","title":"Baz"}]`

type bodyFetcher string

func (b bodyFetcher) Fetch(context.Context, string, bool) []byte { return []byte(b) }

type renderCall struct {
	keys     []string
	indices  []int
	style    string
	template string
}

// spyRenderer records what it is asked to render and echoes the keys.
type spyRenderer struct {
	mu    sync.Mutex
	calls []renderCall
}

func (s *spyRenderer) Render(items []render.Item, style, template string) string {
	c := renderCall{style: style, template: template}
	for _, it := range items {
		key := render.UnknownKey
		if it.Record != nil {
			key = it.Record.Key()
		}
		c.keys = append(c.keys, key)
		c.indices = append(c.indices, it.Index)
	}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	return fmt.Sprintf("<%s:%v>", strings.Join(c.keys, ","), c.indices)
}

func (s *spyRenderer) last() renderCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func newProcessor(t *testing.T, r Renderer) *Processor {
	t.Helper()
	db := testutil.TestDB(t)
	syncer := library.NewSynchronizer(bodyFetcher(cslLibrary), db, db, nil)
	defs := DefaultDefaults()
	defs.LibraryURL = libURL
	return NewProcessor(syncer, r, defs, nil)
}

func TestKeyTable_StableIndexing(t *testing.T) {
	kt := NewKeyTable()
	var got []int
	for _, k := range []string{"a", "b", "a", "c"} {
		got = append(got, kt.Add(k))
	}
	if fmt.Sprint(got) != "[0 1 0 2]" {
		t.Errorf("indices = %v", got)
	}
	if strings.Join(kt.Keys(), ",") != "a,b,c" || kt.Len() != 3 {
		t.Errorf("keys = %v", kt.Keys())
	}
	if i, ok := kt.Index("a"); !ok || i != 0 {
		t.Errorf("Index(a) = %d, %v", i, ok)
	}
}

func TestCite_StableIndexingAcrossDirectives(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	ctx := context.Background()
	p.Open("doc", ParseBibshow(nil, p.Defaults()))

	var idx []int
	for _, k := range []string{"smith2020", "jones2019", "smith2020", "lee2021"} {
		p.Cite(ctx, "doc", BibciteConfig{Keys: []string{k}, Style: "ieee", Template: "bibcite-numbered-note"})
		idx = append(idx, spy.last().indices[0])
	}
	if fmt.Sprint(idx) != "[0 1 0 2]" {
		t.Errorf("indices = %v", idx)
	}
	if got := strings.Join(p.Keys("doc"), ","); got != "smith2020,jones2019,lee2021" {
		t.Errorf("keys = %s", got)
	}
}

func TestCite_Orphaned(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	out := p.Cite(context.Background(), "nobody", BibciteConfig{Keys: []string{"smith2020"}})
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
	if len(spy.calls) != 0 {
		t.Error("renderer must not be called for an orphaned citation")
	}
}

func TestCite_MultipleKeysRenderedTogether(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	ctx := context.Background()
	p.Open("doc", ParseBibshow(nil, p.Defaults()))
	p.Cite(ctx, "doc", BibciteConfig{Keys: []string{"jones2019"}})
	out := p.Cite(ctx, "doc", BibciteConfig{Keys: []string{"smith2020", "jones2019", "ghost"}})
	if out != "<smith2020,jones2019,unknown_key:[1 0 2]>" {
		t.Errorf("out = %q", out)
	}
}

func TestClose_RendersTableInOrder(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	ctx := context.Background()
	p.Open("doc", BibshowConfig{File: libURL, Style: "apa", Template: "bibshow-definition-list"})
	p.Cite(ctx, "doc", BibciteConfig{Keys: []string{"lee2021", "smith2020"}})
	p.Cite(ctx, "doc", BibciteConfig{Keys: []string{"smith2020"}})

	out := p.Close(ctx, "doc", "body ")
	if out != "body <lee2021,smith2020:[0 1]>" {
		t.Errorf("out = %q", out)
	}
	if c := spy.last(); c.style != "apa" || c.template != "bibshow-definition-list" {
		t.Errorf("call = %+v", c)
	}
	if p.Collecting("doc") {
		t.Error("scope still open after close")
	}
}

func TestClose_EmptyTable(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	p.Open("doc", ParseBibshow(nil, p.Defaults()))
	if out := p.Close(context.Background(), "doc", "just text"); out != "just text" {
		t.Errorf("out = %q", out)
	}
	if len(spy.calls) != 0 {
		t.Error("renderer called for empty table")
	}
	if out := p.Close(context.Background(), "never-opened", "x"); out != "x" {
		t.Errorf("unopened close = %q", out)
	}
}

func TestStandalone_SortAscending(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	cfg := ParseBibtex(shortcode.Attrs{"key": "jones2019,smith2020", "sort": "id", "order": "asc"}, p.Defaults())
	p.Standalone(context.Background(), cfg)
	if got := strings.Join(spy.last().keys, ","); got != "jones2019,smith2020" {
		t.Errorf("order = %s", got)
	}

	cfg = ParseBibtex(shortcode.Attrs{"key": "smith2020, jones2019", "sort": "id"}, p.Defaults())
	p.Standalone(context.Background(), cfg)
	if got := strings.Join(spy.last().keys, ","); got != "jones2019,smith2020" {
		t.Errorf("default order = %s", got)
	}
}

func TestStandalone_SortDescendingAndMissing(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	ctx := context.Background()

	p.Standalone(ctx, BibtexConfig{File: libURL, Keys: []string{"jones2019", "lee2021", "smith2020"}, Sort: "issued", Descending: true})
	if got := strings.Join(spy.last().keys, ","); got != "smith2020,jones2019,lee2021" {
		t.Errorf("desc order = %s", got)
	}
	if got := fmt.Sprint(spy.last().indices); got != "[0 1 2]" {
		t.Errorf("indices = %s", got)
	}

	p.Standalone(ctx, BibtexConfig{File: libURL, Keys: []string{"smith2020", "ghost", "jones2019"}, Sort: "nosuchfield"})
	if got := strings.Join(spy.last().keys, ","); got != "smith2020,unknown_key,jones2019" {
		t.Errorf("unsortable order = %s", got)
	}

	if out := p.Standalone(ctx, BibtexConfig{File: libURL}); out != "" {
		t.Errorf("no keys: %q", out)
	}
}

func TestStandalone_DoesNotTouchScope(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	p.Open("doc", ParseBibshow(nil, p.Defaults()))
	p.Standalone(context.Background(), BibtexConfig{File: libURL, Keys: []string{"smith2020"}})
	if keys := p.Keys("doc"); len(keys) != 0 {
		t.Errorf("keys = %v", keys)
	}
}

func TestParseConfigs(t *testing.T) {
	d := DefaultDefaults()
	d.LibraryURL = "https://default/lib.bib"

	show := ParseBibshow(shortcode.Attrs{"style": "apa"}, d)
	if show.File != d.LibraryURL || show.Style != "apa" || show.Template != "bibshow-definition-list" {
		t.Errorf("bibshow = %+v", show)
	}
	cite := ParseBibcite(shortcode.Attrs{"key": " a, ,b "}, d)
	if strings.Join(cite.Keys, "|") != "a|b" || cite.File != "" || cite.Template != "bibcite-numbered-note" {
		t.Errorf("bibcite = %+v", cite)
	}
	pos := ParseBibcite(shortcode.Attrs{"0": "x"}, d)
	if len(pos.Keys) != 1 || pos.Keys[0] != "x" {
		t.Errorf("positional key = %+v", pos)
	}
	bt := ParseBibtex(shortcode.Attrs{"key": "a", "order": "DESC", "sort": "title", "template": "mine"}, d)
	if !bt.Descending || bt.Sort != "title" || bt.Template != "mine" || bt.Style != "ieee" {
		t.Errorf("bibtex = %+v", bt)
	}
}

func TestDocument_Process(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	doc := NewDocument(p)
	in := `Intro [bibcite key=smith2020] ` +
		`[bibshow]A[bibcite key=jones2019]B[bibcite key=smith2020,jones2019][/bibshow]` +
		` [bibtex key=smith2020,jones2019 sort=id] [[bibcite key=x]]`
	out := doc.Process(context.Background(), "post-1", in)
	want := `Intro  A<jones2019:[0]>B<smith2020,jones2019:[1 0]><jones2019,smith2020:[0 1]>` +
		` <jones2019,smith2020:[0 1]> [bibcite key=x]`
	if out != want {
		t.Errorf("got  %q\nwant %q", out, want)
	}
	if p.Collecting("post-1") {
		t.Error("scope left open")
	}
}

func TestDocument_FrontmatterOverrides(t *testing.T) {
	spy := &spyRenderer{}
	p := newProcessor(t, spy)
	doc := NewDocument(p)
	in := "---\nbibcite:\n  style: apa\n---\n[bibtex key=lee2021]"
	if out := doc.Process(context.Background(), "", in); out != "<lee2021:[0]>" {
		t.Errorf("out = %q", out)
	}
	if c := spy.last(); c.style != "apa" {
		t.Errorf("style = %q", c.style)
	}
}

func TestDocument_EndToEndHTML(t *testing.T) {
	db := testutil.TestDB(t)
	syncer := library.NewSynchronizer(bodyFetcher(cslLibrary), db, db, nil)
	defs := DefaultDefaults()
	defs.LibraryURL = libURL
	doc := NewDocument(NewProcessor(syncer, render.New(nil), defs, nil))

	out := doc.Process(context.Background(), "d", "[bibshow]See [bibcite key=jones2019].[/bibshow]")
	for _, want := range []string{
		`<a href="#bib-jones2019" title="jones2019">[1]</a>`,
		`<dl class="bibshow">`,
		`<dd><i>Bar</i>, 2019.</dd>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

type countingFetcher struct {
	calls atomic.Int64
}

func (f *countingFetcher) Fetch(context.Context, string, bool) []byte {
	f.calls.Add(1)
	return []byte(cslLibrary)
}

func TestDirectives_NoLibraryURL(t *testing.T) {
	db := testutil.TestDB(t)
	f := &countingFetcher{}
	spy := &spyRenderer{}
	p := NewProcessor(library.NewSynchronizer(f, db, db, nil), spy, DefaultDefaults(), nil)
	ctx := context.Background()

	p.Open("doc", ParseBibshow(nil, p.Defaults()))
	if out := p.Cite(ctx, "doc", ParseBibcite(shortcode.Attrs{"key": "smith2020"}, p.Defaults())); out != "<unknown_key:[0]>" {
		t.Errorf("cite = %q", out)
	}
	if out := p.Close(ctx, "doc", ""); out != "<unknown_key:[0]>" {
		t.Errorf("close = %q", out)
	}
	if out := p.Standalone(ctx, ParseBibtex(shortcode.Attrs{"key": "a,b"}, p.Defaults())); out != "<unknown_key,unknown_key:[0 1]>" {
		t.Errorf("standalone = %q", out)
	}

	if f.calls.Load() != 0 {
		t.Errorf("fetcher called %d times without a library url", f.calls.Load())
	}
	libs, err := db.Libraries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(libs) != 0 {
		t.Errorf("scopes registered without a library url: %+v", libs)
	}
}
