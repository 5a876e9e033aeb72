package style

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

type dateValue struct {
	year, month, day int
	literal          string
}

func (e *evaluator) date(n *xmlquery.Node) (output, error) {
	v := n.SelectAttr("variable")
	if v == "" || e.suppressed[v] {
		return output{called: v != ""}, nil
	}
	d, ok, err := parseDate(v, e.rec[v])
	if err != nil {
		return output{}, err
	}
	if !ok {
		return output{called: true}, nil
	}
	if d.literal != "" {
		return output{text: e.leaf(n, d.literal), called: true, found: true}, nil
	}

	parts := elements(n)
	var rendered []string
	if len(parts) == 0 {
		rendered = append(rendered, html.EscapeString(e.localized(n.SelectAttr("form"), n.SelectAttr("date-parts"), d)))
	}
	for _, p := range parts {
		if p.Data != "date-part" {
			continue
		}
		var s string
		switch p.SelectAttr("name") {
		case "year":
			if d.year != 0 {
				s = strconv.Itoa(d.year)
			}
		case "month":
			s = e.month(d.month, p.SelectAttr("form"))
		case "day":
			if d.day != 0 {
				s = strconv.Itoa(d.day)
				switch p.SelectAttr("form") {
				case "numeric-leading-zeros":
					s = fmt.Sprintf("%02d", d.day)
				case "ordinal":
					s = ordinal(d.day)
				}
			}
		}
		if s != "" {
			rendered = append(rendered, e.leaf(p, s))
		}
	}
	text := strings.Join(rendered, html.EscapeString(n.SelectAttr("delimiter")))
	return output{text: e.wrap(n, text), called: true, found: text != ""}, nil
}

func (e *evaluator) month(m int, form string) string {
	if m < 1 || m > 12 {
		return ""
	}
	switch form {
	case "numeric":
		return strconv.Itoa(m)
	case "numeric-leading-zeros":
		return fmt.Sprintf("%02d", m)
	case "short":
		return e.st.term(fmt.Sprintf("month-%02d", m), "short", false)
	}
	return e.st.term(fmt.Sprintf("month-%02d", m), "", false)
}

// localized renders a date with no explicit date-part children.
func (e *evaluator) localized(form, limit string, d dateValue) string {
	month, day := d.month, d.day
	switch limit {
	case "year":
		month, day = 0, 0
	case "year-month":
		day = 0
	}
	if form == "" && limit == "" {
		month, day = 0, 0
	}
	if form == "numeric" {
		s := strconv.Itoa(d.year)
		if month > 0 {
			s += fmt.Sprintf("-%02d", month)
			if day > 0 {
				s += fmt.Sprintf("-%02d", day)
			}
		}
		return s
	}
	var s string
	if month > 0 {
		s = e.month(month, "") + " "
		if day > 0 {
			s += strconv.Itoa(day) + ", "
		}
	}
	return s + strconv.Itoa(d.year)
}

// parseDate decodes a CSL date variable: an object with date-parts, literal
// or raw, or a bare string treated as raw.
func parseDate(variable string, val any) (dateValue, bool, error) {
	var d dateValue
	switch x := val.(type) {
	case nil:
		return d, false, nil
	case string:
		return parseRaw(x), x != "", nil
	case map[string]any:
		if lit, ok := x["literal"].(string); ok && lit != "" {
			return dateValue{literal: lit}, true, nil
		}
		if dp, ok := x["date-parts"]; ok {
			parts, err := firstDateParts(variable, dp)
			if err != nil {
				return d, false, err
			}
			if len(parts) == 0 || parts[0] == 0 {
				return d, false, nil
			}
			d.year = parts[0]
			if len(parts) > 1 {
				d.month = parts[1]
			}
			if len(parts) > 2 {
				d.day = parts[2]
			}
			return d, true, nil
		}
		if raw, ok := x["raw"].(string); ok && raw != "" {
			return parseRaw(raw), true, nil
		}
		return d, false, nil
	}
	return d, false, &RenderError{Variable: variable, Reason: fmt.Sprintf("expected a date object, got %T", val)}
}

func firstDateParts(variable string, dp any) ([]int, error) {
	bad := &RenderError{Variable: variable, Reason: "malformed date-parts"}
	var first any
	switch x := dp.(type) {
	case []any:
		if len(x) == 0 {
			return nil, nil
		}
		first = x[0]
	case [][]any:
		if len(x) == 0 {
			return nil, nil
		}
		first = x[0]
	case [][]int:
		if len(x) == 0 {
			return nil, nil
		}
		return x[0], nil
	default:
		return nil, bad
	}

	var items []any
	switch x := first.(type) {
	case []any:
		items = x
	case []int:
		return x, nil
	default:
		return nil, bad
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		var n int
		switch v := it.(type) {
		case int:
			n = v
		case float64:
			n = int(v)
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return nil, bad
			}
			n = int(i)
		case string:
			i, err := strconv.Atoi(v)
			if err != nil {
				return nil, bad
			}
			n = i
		default:
			return nil, bad
		}
		out = append(out, n)
	}
	return out, nil
}

func parseRaw(s string) dateValue {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '/' })
	var d dateValue
	nums := make([]int, 0, 3)
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return dateValue{literal: s}
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return dateValue{literal: s}
	}
	d.year = nums[0]
	if len(nums) > 1 {
		d.month = nums[1]
	}
	if len(nums) > 2 {
		d.day = nums[2]
	}
	return d
}
