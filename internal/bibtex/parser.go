// Package bibtex parses BibTeX text into entries.
package bibtex

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Entry is one parsed BibTeX entry. Field names are lowercased; values keep
// inner braces so that converters can decide how to treat them.
type Entry struct {
	Type     string
	Key      string
	Fields   map[string]string
	Order    []string
	Original string
}

// Field returns a field value and whether it was present.
func (e Entry) Field(name string) (string, bool) {
	v, ok := e.Fields[strings.ToLower(name)]
	return v, ok
}

var monthMacros = map[string]string{
	"jan": "January", "feb": "February", "mar": "March", "apr": "April",
	"may": "May", "jun": "June", "jul": "July", "aug": "August",
	"sep": "September", "oct": "October", "nov": "November", "dec": "December",
}

// Parse parses BibTEX text. @string macros are expanded; @comment and
// @preamble blocks are skipped.
func Parse(text string) ([]Entry, error) {
	file, err := bibParser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("parse bibtex: %w", err)
	}

	macros := make(map[string]string, len(monthMacros))
	for k, v := range monthMacros {
		macros[k] = v
	}

	var entries []Entry
	for _, it := range file.Items {
		typ := strings.ToLower(it.Type)
		switch typ {
		case "comment", "preamble":
			continue
		case "string":
			for _, seg := range splitTop(it.pieces(), ",") {
				name, value, ok := assignment(seg, macros)
				if ok {
					macros[name] = value
				}
			}
			continue
		}

		segs := splitTop(it.pieces(), ",")
		e := Entry{
			Type:   typ,
			Key:    strings.TrimSpace(raw(segs[0])),
			Fields: map[string]string{},
		}
		if it.Pos.Offset >= 0 && it.EndPos.Offset <= len(text) && it.Pos.Offset < it.EndPos.Offset {
			e.Original = text[it.Pos.Offset:it.EndPos.Offset]
		}
		for _, seg := range segs[1:] {
			name, value, ok := assignment(seg, macros)
			if !ok {
				continue
			}
			if _, dup := e.Fields[name]; !dup {
				e.Order = append(e.Order, name)
			}
			e.Fields[name] = value
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// assignment interprets "name = value # value".
func assignment(seg []piece, macros map[string]string) (string, string, bool) {
	parts := splitTop(seg, "=")
	if len(parts) < 2 {
		return "", "", false
	}
	name := strings.ToLower(strings.TrimSpace(raw(parts[0])))
	if name == "" {
		return "", "", false
	}
	// Rejoin any '=' that belonged to an unquoted value.
	rest := parts[1]
	for _, p := range parts[2:] {
		rest = append(rest, piece{text: "="})
		rest = append(rest, p...)
	}
	return name, value(rest, macros), true
}

func value(ps []piece, macros map[string]string) string {
	var sb strings.Builder
	for _, part := range splitTop(ps, "#") {
		sb.WriteString(operand(trimSpace(part), macros))
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func operand(ps []piece, macros map[string]string) string {
	if len(ps) == 0 {
		return ""
	}
	if ps[0].group == nil && ps[0].text == `"` {
		end := len(ps)
		if last := ps[len(ps)-1]; len(ps) > 1 && last.group == nil && last.text == `"` {
			end = len(ps) - 1
		}
		return raw(ps[1:end])
	}
	if len(ps) == 1 && ps[0].group != nil {
		return ps[0].group.inner()
	}
	var sb strings.Builder
	for _, p := range ps {
		switch {
		case p.group != nil:
			sb.WriteString(p.group.inner())
		case p.isSpace():
			sb.WriteString(" ")
		default:
			if v, ok := macros[strings.ToLower(p.text)]; ok {
				sb.WriteString(v)
			} else {
				sb.WriteString(p.text)
			}
		}
	}
	return sb.String()
}

// Parser wraps Parse with the library's failure policy: malformed input is
// logged and yields no entries.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to slog.Default.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseString returns the entries of text, or an empty slice on failure.
func (p *Parser) ParseString(text string) []Entry {
	entries, err := Parse(text)
	if err != nil {
		p.logger.Error("bibtex parse failed", "error", err)
		return []Entry{}
	}
	return entries
}

// ParseFile reads and parses a BibTeX file.
func (p *Parser) ParseFile(path string) []Entry {
	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Error("bibtex read failed", "path", path, "error", err)
		return []Entry{}
	}
	return p.ParseString(string(data))
}
