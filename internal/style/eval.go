package style

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode"

	"github.com/antchfx/xmlquery"

	"github.com/starford/bibcite/internal/models"
)

const maxMacroDepth = 32

type evaluator struct {
	st         *Style
	rec        models.Record
	suppressed map[string]bool
	depth      int
}

// output carries rendered HTML plus the bookkeeping needed for group
// suppression: a group that references variables but renders none of them
// is dropped.
type output struct {
	text   string
	called bool
	found  bool
}

func (o *output) merge(other output) {
	o.called = o.called || other.called
	o.found = o.found || other.found
}

func elements(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func child(n *xmlquery.Node, name string) *xmlquery.Node {
	for _, c := range elements(n) {
		if c.Data == name {
			return c
		}
	}
	return nil
}

func (e *evaluator) seq(n *xmlquery.Node, delim string) (output, error) {
	var (
		res   output
		parts []string
	)
	for _, c := range elements(n) {
		o, err := e.node(c)
		if err != nil {
			return output{}, err
		}
		res.merge(o)
		if o.text != "" {
			parts = append(parts, o.text)
		}
	}
	res.text = strings.Join(parts, html.EscapeString(delim))
	return res, nil
}

func (e *evaluator) node(n *xmlquery.Node) (output, error) {
	switch n.Data {
	case "text":
		return e.text(n)
	case "number":
		return e.number(n)
	case "label":
		return e.label(n)
	case "names":
		return e.names(n)
	case "date":
		return e.date(n)
	case "group":
		o, err := e.seq(n, n.SelectAttr("delimiter"))
		if err != nil {
			return output{}, err
		}
		if o.called && !o.found {
			return output{called: true}, nil
		}
		o.text = e.wrap(n, o.text)
		return o, nil
	case "choose":
		return e.choose(n)
	}
	return output{}, nil
}

func (e *evaluator) text(n *xmlquery.Node) (output, error) {
	if v := n.SelectAttr("variable"); v != "" {
		if e.suppressed[v] {
			return output{called: true}, nil
		}
		s, err := e.lookup(v, n.SelectAttr("form"))
		if err != nil {
			return output{}, err
		}
		return output{text: e.leaf(n, s), called: true, found: s != ""}, nil
	}
	if name := n.SelectAttr("macro"); name != "" {
		m, ok := e.st.macros[name]
		if !ok {
			return output{}, &RenderError{Variable: name, Reason: "unknown macro"}
		}
		if e.depth >= maxMacroDepth {
			return output{}, &RenderError{Variable: name, Reason: "macro recursion too deep"}
		}
		e.depth++
		o, err := e.seq(m, "")
		e.depth--
		if err != nil {
			return output{}, err
		}
		o.text = e.wrap(n, o.text)
		return o, nil
	}
	if name := n.SelectAttr("term"); name != "" {
		s := e.st.term(name, n.SelectAttr("form"), n.SelectAttr("plural") == "true")
		return output{text: e.leaf(n, s)}, nil
	}
	if _, ok := attr(n, "value"); ok {
		return output{text: e.leaf(n, n.SelectAttr("value"))}, nil
	}
	return output{}, nil
}

func (e *evaluator) number(n *xmlquery.Node) (output, error) {
	v := n.SelectAttr("variable")
	if v == "" || e.suppressed[v] {
		return output{called: v != ""}, nil
	}
	s, err := e.lookup(v, "")
	if err != nil {
		return output{}, err
	}
	if i, err := strconv.Atoi(s); err == nil {
		switch n.SelectAttr("form") {
		case "ordinal", "long-ordinal":
			s = ordinal(i)
		case "roman":
			s = roman(i)
		}
	}
	return output{text: e.leaf(n, s), called: true, found: s != ""}, nil
}

func (e *evaluator) label(n *xmlquery.Node) (output, error) {
	v := n.SelectAttr("variable")
	if v == "" {
		return output{}, nil
	}
	s, err := e.lookup(v, "")
	if err != nil || s == "" {
		return output{}, err
	}
	plural := false
	switch n.SelectAttr("plural") {
	case "always":
		plural = true
	case "never":
	default:
		plural = strings.ContainsAny(s, "-–,&")
	}
	return output{text: e.leaf(n, e.st.term(v, n.SelectAttr("form"), plural))}, nil
}

func (e *evaluator) choose(n *xmlquery.Node) (output, error) {
	for _, c := range elements(n) {
		switch c.Data {
		case "if", "else-if":
			ok, err := e.test(c)
			if err != nil {
				return output{}, err
			}
			if ok {
				return e.seq(c, "")
			}
		case "else":
			return e.seq(c, "")
		}
	}
	return output{}, nil
}

func (e *evaluator) test(n *xmlquery.Node) (bool, error) {
	var results []bool
	for _, a := range n.Attr {
		values := strings.Fields(a.Value)
		switch a.Name.Local {
		case "type":
			typ, _ := e.rec["type"].(string)
			for _, t := range values {
				results = append(results, typ == t)
			}
		case "variable":
			for _, v := range values {
				results = append(results, !e.suppressed[v] && present(e.rec[v]))
			}
		case "is-numeric":
			for _, v := range values {
				s, err := e.lookup(v, "")
				if err != nil {
					return false, err
				}
				results = append(results, isNumeric(s))
			}
		case "is-uncertain-date", "locator", "position", "disambiguate":
			for range values {
				results = append(results, false)
			}
		}
	}

	switch n.SelectAttr("match") {
	case "any":
		for _, r := range results {
			if r {
				return true, nil
			}
		}
		return false, nil
	case "none":
		for _, r := range results {
			if r {
				return false, nil
			}
		}
		return true, nil
	default:
		for _, r := range results {
			if !r {
				return false, nil
			}
		}
		return len(results) > 0, nil
	}
}

// lookup returns a scalar variable as text. Structured values are an error.
func (e *evaluator) lookup(v, form string) (string, error) {
	if form == "short" {
		if s, err := scalar(v+"-short", e.rec[v+"-short"]); err == nil && s != "" {
			return s, nil
		}
	}
	return scalar(v, e.rec[v])
}

func scalar(name string, val any) (string, error) {
	switch x := val.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	}
	return "", &RenderError{Variable: name, Reason: fmt.Sprintf("expected a string or number, got %T", val)}
}

func present(val any) bool {
	switch x := val.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case []map[string]any:
		return len(x) > 0
	}
	return true
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	digit := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(" -–,&", r):
		default:
			return false
		}
	}
	return digit
}

func attr(n *xmlquery.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// leaf escapes a raw value and applies the node's formatting.
func (e *evaluator) leaf(n *xmlquery.Node, s string) string {
	if s == "" {
		return ""
	}
	s = textCase(n.SelectAttr("text-case"), s)
	if n.SelectAttr("strip-periods") == "true" {
		s = strings.ReplaceAll(s, ".", "")
	}
	return e.wrap(n, html.EscapeString(s))
}

// wrap applies font formatting, quotes and affixes to already escaped HTML.
func (e *evaluator) wrap(n *xmlquery.Node, s string) string {
	if s == "" {
		return ""
	}
	if n.SelectAttr("quotes") == "true" {
		s = e.st.term("open-quote", "", false) + s + e.st.term("close-quote", "", false)
	}
	switch n.SelectAttr("font-style") {
	case "italic", "oblique":
		s = "<i>" + s + "</i>"
	}
	if n.SelectAttr("font-weight") == "bold" {
		s = "<b>" + s + "</b>"
	}
	if n.SelectAttr("font-variant") == "small-caps" {
		s = `<span class="small-caps">` + s + "</span>"
	}
	if n.SelectAttr("text-decoration") == "underline" {
		s = "<u>" + s + "</u>"
	}
	switch n.SelectAttr("vertical-align") {
	case "sup":
		s = "<sup>" + s + "</sup>"
	case "sub":
		s = "<sub>" + s + "</sub>"
	}
	return html.EscapeString(n.SelectAttr("prefix")) + s + html.EscapeString(n.SelectAttr("suffix"))
}

func textCase(mode, s string) string {
	switch mode {
	case "lowercase":
		return strings.ToLower(s)
	case "uppercase":
		return strings.ToUpper(s)
	case "capitalize-first", "sentence":
		r := []rune(s)
		r[0] = unicode.ToUpper(r[0])
		return string(r)
	case "capitalize-all", "title":
		words := strings.Fields(s)
		for i, w := range words {
			r := []rune(w)
			r[0] = unicode.ToUpper(r[0])
			words[i] = string(r)
		}
		return strings.Join(words, " ")
	}
	return s
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

func roman(n int) string {
	if n <= 0 || n >= 4000 {
		return strconv.Itoa(n)
	}
	vals := []int{1000, 900, 500, 400, 100, 90, 50, 40, 10, 9, 5, 4, 1}
	syms := []string{"m", "cm", "d", "cd", "c", "xc", "l", "xl", "x", "ix", "v", "iv", "i"}
	var sb strings.Builder
	for i, v := range vals {
		for n >= v {
			sb.WriteString(syms[i])
			n -= v
		}
	}
	return sb.String()
}
