// Package convert maps parsed BibTeX entries onto CSL-JSON records.
package convert

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/bibtex"
	"github.com/starford/bibcite/internal/models"
)

var typeMap = map[string]string{
	"article":       "article-journal",
	"book":          "book",
	"booklet":       "pamphlet",
	"inbook":        "chapter",
	"incollection":  "chapter",
	"inproceedings": "paper-conference",
	"conference":    "paper-conference",
	"manual":        "report",
	"mastersthesis": "thesis",
	"phdthesis":     "thesis",
	"thesis":        "thesis",
	"proceedings":   "book",
	"techreport":    "report",
	"report":        "report",
	"unpublished":   "manuscript",
	"online":        "webpage",
	"electronic":    "webpage",
	"misc":          "document",
}

// fieldMap lists the BibTeX fields copied verbatim into a CSL variable.
var fieldMap = map[string]string{
	"journal":      "container-title",
	"journaltitle": "container-title",
	"booktitle":    "container-title",
	"publisher":    "publisher",
	"school":       "publisher",
	"institution":  "publisher",
	"organization": "publisher",
	"address":      "publisher-place",
	"location":     "publisher-place",
	"volume":       "volume",
	"edition":      "edition",
	"series":       "collection-title",
	"chapter":      "chapter-number",
	"doi":          "DOI",
	"url":          "URL",
	"isbn":         "ISBN",
	"issn":         "ISSN",
	"note":         "note",
	"abstract":     "abstract",
	"keywords":     "keyword",
	"language":     "language",
	"howpublished": "medium",
}

var monthNumbers = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
}

// ToCSL converts one BibTeX entry. Braces are stripped from the title only.
func ToCSL(e bibtex.Entry) (models.Record, error) {
	if strings.TrimSpace(e.Key) == "" {
		return nil, fmt.Errorf("%w: %s entry without citation key", apperr.ErrInvalidEntry, e.Type)
	}

	typ, ok := typeMap[e.Type]
	if !ok {
		typ = "document"
	}
	rec := models.Record{
		"id":             e.Key,
		"citation-label": e.Key,
		"type":           typ,
	}

	switch e.Type {
	case "phdthesis":
		rec["genre"] = "PhD thesis"
	case "mastersthesis":
		rec["genre"] = "Master's thesis"
	}

	for _, name := range e.Order {
		v := e.Fields[name]
		switch name {
		case "title":
			rec["title"] = stripBraces(v)
		case "author", "editor", "translator":
			if names := parseNames(v); len(names) > 0 {
				rec[name] = names
			}
		case "pages":
			rec["page"] = strings.ReplaceAll(v, "--", "-")
		case "number":
			if typ == "report" {
				rec["number"] = v
			} else {
				rec["issue"] = v
			}
		case "year", "month", "day", "date":
		default:
			if cslName, ok := fieldMap[name]; ok {
				if _, taken := rec[cslName]; !taken {
					rec[cslName] = v
				}
			}
		}
	}

	if issued := issuedDate(e); issued != nil {
		rec["issued"] = issued
	}
	return rec, nil
}

// Converter applies ToCSL to a batch, logging and skipping entries that fail.
type Converter struct {
	logger *slog.Logger
}

// New creates a Converter. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{logger: logger}
}

// Convert converts a single entry.
func (c *Converter) Convert(e bibtex.Entry) (models.Record, error) {
	return ToCSL(e)
}

// ConvertAll converts every entry it can.
func (c *Converter) ConvertAll(entries []bibtex.Entry) []models.Record {
	out := make([]models.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := ToCSL(e)
		if err != nil {
			c.logger.Warn("skipping entry", "key", e.Key, "type", e.Type, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func stripBraces(s string) string {
	return strings.NewReplacer("{", "", "}", "").Replace(s)
}

func issuedDate(e bibtex.Entry) map[string]any {
	if d, ok := e.Field("date"); ok && d != "" {
		var parts []any
		for _, p := range strings.SplitN(strings.TrimSpace(d), "-", 3) {
			n, err := strconv.Atoi(p)
			if err != nil {
				return map[string]any{"literal": d}
			}
			parts = append(parts, n)
		}
		return map[string]any{"date-parts": []any{parts}}
	}

	y, ok := e.Field("year")
	if !ok || strings.TrimSpace(y) == "" {
		return nil
	}
	year, err := strconv.Atoi(strings.TrimSpace(stripBraces(y)))
	if err != nil {
		return map[string]any{"literal": y}
	}
	parts := []any{year}
	if m, ok := e.Field("month"); ok {
		if month := monthNumber(m); month > 0 {
			parts = append(parts, month)
			if d, ok := e.Field("day"); ok {
				if day, err := strconv.Atoi(strings.TrimSpace(d)); err == nil {
					parts = append(parts, day)
				}
			}
		}
	}
	return map[string]any{"date-parts": []any{parts}}
}

func monthNumber(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 12 {
		return n
	}
	if n, ok := monthNumbers[s]; ok {
		return n
	}
	for name, n := range monthNumbers {
		if len(s) >= 3 && strings.HasPrefix(name, s) {
			return n
		}
	}
	return 0
}
