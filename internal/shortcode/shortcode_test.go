package shortcode

import (
	"testing"
)

var names = []string{"bibshow", "bibcite", "bibtex"}

func newParser() *Parser { return New(names, "bibshow") }

func TestParse_TextOnly(t *testing.T) {
	nodes := newParser().Parse("plain [text] here")
	if len(nodes) != 1 || nodes[0].Tag != nil || nodes[0].Text != "plain [text] here" {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestParse_EnclosingAndInline(t *testing.T) {
	in := `Intro [bibshow file="https://x/lib.bib" style=apa]See [bibcite key=a,b] and [bibcite key='c'].[/bibshow] tail [bibtex key="d" sort=id order=desc]`
	nodes := newParser().Parse(in)
	if len(nodes) != 4 {
		t.Fatalf("len(nodes) = %d: %+v", len(nodes), nodes)
	}
	if nodes[0].Text != "Intro " {
		t.Errorf("node 0 = %q", nodes[0].Text)
	}

	show := nodes[1].Tag
	if show == nil || show.Name != "bibshow" || !show.Enclosed {
		t.Fatalf("node 1 = %+v", nodes[1])
	}
	if show.Attrs["file"] != "https://x/lib.bib" || show.Attrs["style"] != "apa" {
		t.Errorf("bibshow attrs = %v", show.Attrs)
	}
	kids := nodes[1].Children
	if len(kids) != 5 {
		t.Fatalf("children = %+v", kids)
	}
	if kids[1].Tag.Name != "bibcite" || kids[1].Tag.Attrs["key"] != "a,b" {
		t.Errorf("first cite = %+v", kids[1].Tag)
	}
	if kids[3].Tag.Attrs["key"] != "c" || kids[4].Text != "." {
		t.Errorf("second cite = %+v, tail = %q", kids[3].Tag, kids[4].Text)
	}

	if nodes[2].Text != " tail " {
		t.Errorf("node 2 = %q", nodes[2].Text)
	}
	bt := nodes[3].Tag
	if bt.Name != "bibtex" || bt.Attrs["sort"] != "id" || bt.Attrs["order"] != "desc" || bt.Enclosed {
		t.Errorf("bibtex = %+v", bt)
	}
}

func TestParse_UnclosedEnclosingIsSelfClosing(t *testing.T) {
	nodes := newParser().Parse("[bibshow] [bibcite key=a]")
	if len(nodes) != 3 {
		t.Fatalf("nodes = %+v", nodes)
	}
	if nodes[0].Tag.Enclosed || len(nodes[0].Children) != 0 {
		t.Errorf("bibshow = %+v", nodes[0])
	}
	if nodes[2].Tag.Name != "bibcite" {
		t.Errorf("node 2 = %+v", nodes[2])
	}
}

func TestParse_StrayCloseIsText(t *testing.T) {
	nodes := newParser().Parse("a [/bibshow] b")
	if len(nodes) != 1 || nodes[0].Text != "a [/bibshow] b" {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestParse_Escaped(t *testing.T) {
	nodes := newParser().Parse("write [[bibcite key=a]] to cite")
	if len(nodes) != 1 || nodes[0].Text != "write [bibcite key=a] to cite" {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestParse_UnknownNamesIgnored(t *testing.T) {
	nodes := newParser().Parse("[bibcitex key=a][gallery id=1]")
	if len(nodes) != 1 || nodes[0].Tag != nil {
		t.Errorf("nodes = %+v", nodes)
	}
}

func TestParseAttrs(t *testing.T) {
	got := ParseAttrs(` KEY="a, b" style='apa' order=desc &#8220;positional&#8221; bare /`)
	want := Attrs{"key": "a, b", "style": "apa", "order": "desc", "0": "positional", "1": "bare"}
	if len(got) != len(want) {
		t.Fatalf("attrs = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attrs[%q] = %q, want %q", k, got[k], v)
		}
	}
	if got.Get("missing", "def") != "def" || got.Get("style", "x") != "apa" {
		t.Error("Get defaults wrong")
	}
}

func TestSplitFrontmatter(t *testing.T) {
	fm, body := SplitFrontmatter([]byte("---\ntitle: Paper\nbibcite:\n  file: https://x/lib.bib\n  style: apa\n---\nBody [bibcite key=a]\n"))
	if body != "Body [bibcite key=a]\n" {
		t.Errorf("body = %q", body)
	}
	sec := Section(fm, "bibcite")
	if sec["file"] != "https://x/lib.bib" || sec["style"] != "apa" {
		t.Errorf("section = %v", sec)
	}
	if Section(fm, "missing") != nil {
		t.Error("missing section should be nil")
	}
}

func TestSplitFrontmatter_None(t *testing.T) {
	fm, body := SplitFrontmatter([]byte("# Just text\n"))
	if fm != nil || body != "# Just text\n" {
		t.Errorf("fm = %v body = %q", fm, body)
	}
	fm, body = SplitFrontmatter([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if fm != nil || body != "---\n: invalid: yaml: {{{\n---\nBody\n" {
		t.Errorf("invalid yaml: fm = %v body = %q", fm, body)
	}
}
