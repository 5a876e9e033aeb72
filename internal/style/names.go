package style

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

type personName struct {
	family, given, particle, dropping, suffix, literal string
}

type nameConfig struct {
	node           *xmlquery.Node
	and            string
	delimiter      string
	initializeWith *string
	sortOrder      string
	sortSeparator  string
	form           string
	etAlMin        int
	etAlUseFirst   int
	precedesLast   string
}

func newNameConfig(n *xmlquery.Node) nameConfig {
	cfg := nameConfig{node: n, delimiter: ", ", sortSeparator: ", ", precedesLast: "contextual"}
	if n == nil {
		return cfg
	}
	cfg.and = n.SelectAttr("and")
	if d, ok := attr(n, "delimiter"); ok {
		cfg.delimiter = d
	}
	if iw, ok := attr(n, "initialize-with"); ok {
		cfg.initializeWith = &iw
	}
	cfg.sortOrder = n.SelectAttr("name-as-sort-order")
	if s, ok := attr(n, "sort-separator"); ok {
		cfg.sortSeparator = s
	}
	cfg.form = n.SelectAttr("form")
	cfg.etAlMin, _ = strconv.Atoi(n.SelectAttr("et-al-min"))
	cfg.etAlUseFirst, _ = strconv.Atoi(n.SelectAttr("et-al-use-first"))
	if p := n.SelectAttr("delimiter-precedes-last"); p != "" {
		cfg.precedesLast = p
	}
	return cfg
}

func (e *evaluator) names(n *xmlquery.Node) (output, error) {
	vars := strings.Fields(n.SelectAttr("variable"))
	nameNode := child(n, "name")
	cfg := newNameConfig(nameNode)

	var parts []string
	for _, v := range vars {
		if e.suppressed[v] {
			continue
		}
		list, err := nameList(v, e.rec[v])
		if err != nil {
			return output{}, err
		}
		if len(list) == 0 {
			continue
		}
		s := e.nameList(n, cfg, v, list)
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) > 0 {
		return output{
			text:   e.wrap(n, strings.Join(parts, html.EscapeString(n.SelectAttr("delimiter")))),
			called: true,
			found:  true,
		}, nil
	}

	if sub := child(n, "substitute"); sub != nil {
		for _, c := range elements(sub) {
			o, err := e.node(c)
			if err != nil {
				return output{}, err
			}
			if o.text == "" {
				continue
			}
			for _, v := range strings.Fields(c.SelectAttr("variable")) {
				e.suppressed[v] = true
			}
			return output{text: e.wrap(n, o.text), called: true, found: true}, nil
		}
	}
	return output{called: len(vars) > 0}, nil
}

func (e *evaluator) nameList(n *xmlquery.Node, cfg nameConfig, variable string, list []personName) string {
	if cfg.form == "count" {
		return strconv.Itoa(len(list))
	}

	names := make([]string, len(list))
	for i, p := range list {
		names[i] = html.EscapeString(formatName(p, cfg, i))
	}

	etAl := false
	if cfg.etAlMin > 0 && len(names) >= cfg.etAlMin {
		keep := max(cfg.etAlUseFirst, 1)
		if keep < len(names) {
			names = names[:keep]
			etAl = true
		}
	}

	delim := html.EscapeString(cfg.delimiter)
	var joined string
	switch {
	case etAl:
		etAlTerm := e.st.term("et-al", "", false)
		if t := child(n, "et-al"); t != nil && t.SelectAttr("term") != "" {
			etAlTerm = e.st.term(t.SelectAttr("term"), "", false)
		}
		sep := " "
		if len(names) > 1 {
			sep = delim
		}
		joined = strings.Join(names, delim) + sep + html.EscapeString(etAlTerm)
	case len(names) == 1:
		joined = names[0]
	default:
		var and string
		switch cfg.and {
		case "text":
			and = html.EscapeString(e.st.term("and", "", false))
		case "symbol":
			and = "&amp;"
		}
		if and == "" {
			joined = strings.Join(names, delim)
			break
		}
		head := strings.Join(names[:len(names)-1], delim)
		last := names[len(names)-1]
		precede := false
		switch cfg.precedesLast {
		case "always":
			precede = true
		case "never":
		case "after-inverted-name":
			precede = cfg.sortOrder == "all" || (cfg.sortOrder == "first" && len(names) == 2)
		default:
			precede = len(names) > 2
		}
		if precede {
			joined = head + delim + and + " " + last
		} else {
			joined = head + " " + and + " " + last
		}
	}
	if cfg.node != nil {
		joined = e.wrap(cfg.node, joined)
	}

	lbl := child(n, "label")
	if lbl == nil {
		return joined
	}
	plural := len(list) > 1
	switch lbl.SelectAttr("plural") {
	case "always":
		plural = true
	case "never":
		plural = false
	}
	label := e.leaf(lbl, e.st.term(variable, lbl.SelectAttr("form"), plural))
	if nameNode := cfg.node; nameNode != nil && labelFirst(n, lbl, nameNode) {
		return label + joined
	}
	return joined + label
}

func labelFirst(parent, label, name *xmlquery.Node) bool {
	for _, c := range elements(parent) {
		switch c {
		case label:
			return true
		case name:
			return false
		}
	}
	return false
}

func formatName(p personName, cfg nameConfig, idx int) string {
	if p.literal != "" {
		return p.literal
	}
	family := joinNonEmpty(" ", p.particle, p.family)
	if cfg.form == "short" {
		return family
	}
	given := p.given
	if cfg.initializeWith != nil && given != "" {
		given = initials(given, *cfg.initializeWith)
	}
	inverted := cfg.sortOrder == "all" || (cfg.sortOrder == "first" && idx == 0)
	if inverted {
		return joinNonEmpty(cfg.sortSeparator, family, joinNonEmpty(" ", given, p.dropping), p.suffix)
	}
	return joinNonEmpty(" ", given, p.dropping, family, p.suffix)
}

func initials(given, with string) string {
	var sb strings.Builder
	for i, word := range strings.Fields(given) {
		for j, part := range strings.Split(word, "-") {
			r := []rune(part)
			if len(r) == 0 {
				continue
			}
			if j > 0 {
				sb.WriteString("-")
			} else if i > 0 && !strings.HasSuffix(with, " ") {
				sb.WriteString(" ")
			}
			sb.WriteRune(r[0])
			sb.WriteString(with)
		}
	}
	return strings.TrimSpace(sb.String())
}

func joinNonEmpty(sep string, parts ...string) string {
	var keep []string
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, sep)
}

// nameList decodes a CSL name variable. Records decoded from JSON carry
// []any; records built in process may carry []map[string]any.
func nameList(variable string, val any) ([]personName, error) {
	var items []map[string]any
	switch x := val.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		items = x
	case []any:
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, &RenderError{Variable: variable, Reason: fmt.Sprintf("name entry is %T, want object", it)}
			}
			items = append(items, m)
		}
	default:
		return nil, &RenderError{Variable: variable, Reason: fmt.Sprintf("expected a list of names, got %T", val)}
	}

	out := make([]personName, 0, len(items))
	for _, m := range items {
		var p personName
		fields := map[string]*string{
			"family":                &p.family,
			"given":                 &p.given,
			"non-dropping-particle": &p.particle,
			"dropping-particle":     &p.dropping,
			"suffix":                &p.suffix,
			"literal":               &p.literal,
		}
		for k, dst := range fields {
			v, ok := m[k]
			if !ok || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return nil, &RenderError{Variable: variable, Reason: fmt.Sprintf("name part %q is %T", k, v)}
			}
			*dst = s
		}
		out = append(out, p)
	}
	return out, nil
}
