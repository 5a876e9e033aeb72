package style

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

type term struct {
	single   string
	multiple string
}

var defaultTerms = map[string]term{
	"and":                  {"and", "and"},
	"et-al":                {"et al.", "et al."},
	"in":                   {"in", "in"},
	"accessed":             {"accessed", "accessed"},
	"retrieved":            {"retrieved", "retrieved"},
	"available at":         {"available at", "available at"},
	"no date":              {"n.d.", "n.d."},
	"no date/short":        {"n.d.", "n.d."},
	"edition":              {"edition", "editions"},
	"edition/short":        {"ed.", "eds."},
	"editor":               {"editor", "editors"},
	"editor/short":         {"ed.", "eds."},
	"translator":           {"translator", "translators"},
	"translator/short":     {"tran.", "trans."},
	"page":                 {"page", "pages"},
	"page/short":           {"p.", "pp."},
	"volume":               {"volume", "volumes"},
	"volume/short":         {"vol.", "vols."},
	"issue":                {"issue", "issues"},
	"issue/short":          {"no.", "nos."},
	"chapter-number":       {"chapter", "chapters"},
	"chapter-number/short": {"chap.", "chaps."},
	"open-quote":           {"“", "“"},
	"close-quote":          {"”", "”"},
}

var monthNames = [...]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

func init() {
	for i, m := range monthNames {
		key := fmt.Sprintf("month-%02d", i+1)
		defaultTerms[key] = term{m, m}
		short := m
		if len(m) > 4 {
			short = m[:3] + "."
		}
		defaultTerms[key+"/short"] = term{short, short}
	}
}

func termKey(name, form string) string {
	if form == "" || form == "long" {
		return name
	}
	return name + "/" + form
}

func (s *Style) addTerm(n *xmlquery.Node) {
	name := n.SelectAttr("name")
	if name == "" {
		return
	}
	var t term
	hasForms := false
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		switch c.Data {
		case "single":
			t.single, hasForms = c.InnerText(), true
		case "multiple":
			t.multiple, hasForms = c.InnerText(), true
		}
	}
	if !hasForms {
		t.single = strings.TrimSpace(n.InnerText())
		t.multiple = t.single
	}
	if t.multiple == "" {
		t.multiple = t.single
	}
	s.terms[termKey(name, n.SelectAttr("form"))] = t
}

// term looks a term up in the style's locale, then in the built-in English
// terms. Forms other than long fall back to long.
func (s *Style) term(name, form string, plural bool) string {
	keys := []string{termKey(name, form)}
	if form != "" && form != "long" {
		keys = append(keys, name)
	}
	for _, k := range keys {
		t, ok := s.terms[k]
		if !ok {
			t, ok = defaultTerms[k]
		}
		if ok {
			if plural {
				return t.multiple
			}
			return t.single
		}
	}
	return ""
}
