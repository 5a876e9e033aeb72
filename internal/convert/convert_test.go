package convert

import (
	"errors"
	"reflect"
	"testing"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/bibtex"
)

func entry(typ, key string, kv ...string) bibtex.Entry {
	e := bibtex.Entry{Type: typ, Key: key, Fields: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		e.Fields[kv[i]] = kv[i+1]
		e.Order = append(e.Order, kv[i])
	}
	return e
}

func TestToCSL_TitleBracesOnly(t *testing.T) {
	e := entry("misc", "k",
		"title", "{API} Design",
		"note", "{Kept} as is",
		"publisher", "{ACM}",
	)
	rec, err := ToCSL(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.String("title"); got != "API Design" {
		t.Errorf("title = %q, want %q", got, "API Design")
	}
	if got := rec.String("note"); got != "{Kept} as is" {
		t.Errorf("note = %q", got)
	}
	if got := rec.String("publisher"); got != "{ACM}" {
		t.Errorf("publisher = %q", got)
	}
	if rec.Key() != "k" || rec.ID() != "k" {
		t.Errorf("key = %q id = %q", rec.Key(), rec.ID())
	}
}

func TestToCSL_FromParsedText(t *testing.T) {
	entries, err := bibtex.Parse(`@article{smith2020, title = {{API} Design}, year = 2020, month = mar}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec, err := ToCSL(entries[0])
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got := rec.String("title"); got != "API Design" {
		t.Errorf("title = %q", got)
	}
	if rec["type"] != "article-journal" {
		t.Errorf("type = %v", rec["type"])
	}
	want := map[string]any{"date-parts": []any{[]any{2020, 3}}}
	if !reflect.DeepEqual(rec["issued"], want) {
		t.Errorf("issued = %#v", rec["issued"])
	}
}

func TestToCSL_MissingKey(t *testing.T) {
	_, err := ToCSL(entry("article", " ", "title", "x"))
	if !errors.Is(err, apperr.ErrInvalidEntry) {
		t.Errorf("err = %v, want ErrInvalidEntry", err)
	}
}

func TestToCSL_FieldMapping(t *testing.T) {
	rec, err := ToCSL(entry("techreport", "r1",
		"institution", "MIT",
		"number", "TR-7",
		"pages", "1--10",
		"doi", "10.1/x",
		"unknownfield", "dropped",
	))
	if err != nil {
		t.Fatal(err)
	}
	if rec["type"] != "report" || rec["publisher"] != "MIT" || rec["number"] != "TR-7" {
		t.Errorf("rec = %v", rec)
	}
	if rec["page"] != "1-10" || rec["DOI"] != "10.1/x" {
		t.Errorf("rec = %v", rec)
	}
	if _, ok := rec["unknownfield"]; ok {
		t.Error("unmapped field leaked into record")
	}
}

func TestParseNames(t *testing.T) {
	cases := []struct {
		in   string
		want []map[string]any
	}{
		{"Smith, John and Doe, Jane", []map[string]any{
			{"family": "Smith", "given": "John"},
			{"family": "Doe", "given": "Jane"},
		}},
		{"Ludwig van Beethoven", []map[string]any{
			{"given": "Ludwig", "non-dropping-particle": "van", "family": "Beethoven"},
		}},
		{"van Rossum, Guido", []map[string]any{
			{"non-dropping-particle": "van", "family": "Rossum", "given": "Guido"},
		}},
		{"King, Jr, Martin Luther", []map[string]any{
			{"family": "King", "suffix": "Jr", "given": "Martin Luther"},
		}},
		{"{Barnes and Noble}", []map[string]any{
			{"literal": "Barnes and Noble"},
		}},
		{"Plato", []map[string]any{{"family": "Plato"}}},
	}
	for _, tc := range cases {
		got := parseNames(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseNames(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestConvertAll_SkipsFailures(t *testing.T) {
	c := New(nil)
	got := c.ConvertAll([]bibtex.Entry{
		entry("book", "a", "title", "A"),
		entry("book", "", "title", "broken"),
		entry("book", "c", "title", "C"),
	})
	if len(got) != 2 || got[0].Key() != "a" || got[1].Key() != "c" {
		t.Errorf("got %v", got)
	}
}
