package directive

import (
	"strings"

	"github.com/starford/bibcite/internal/shortcode"
)

// Directive names.
const (
	Bibshow = "bibshow"
	Bibcite = "bibcite"
	Bibtex  = "bibtex"
)

// Names lists every directive the processor understands.
var Names = []string{Bibshow, Bibcite, Bibtex}

// Presentation is a style/template pair.
type Presentation struct {
	Style    string `yaml:"style"`
	Template string `yaml:"template"`
}

// Defaults are the values used when a directive omits an attribute.
type Defaults struct {
	LibraryURL string
	Bibshow    Presentation
	Bibcite    Presentation
	Bibtex     Presentation
}

// DefaultDefaults returns the stock presentation for each directive.
func DefaultDefaults() Defaults {
	return Defaults{
		Bibshow: Presentation{Style: "ieee", Template: "bibshow-definition-list"},
		Bibcite: Presentation{Style: "ieee", Template: "bibcite-numbered-note"},
		Bibtex:  Presentation{Style: "ieee", Template: "bibtex-unordered-list"},
	}
}

// withOverrides applies document-level settings, e.g. from frontmatter.
func (d Defaults) withOverrides(a shortcode.Attrs) Defaults {
	if a == nil {
		return d
	}
	d.LibraryURL = a.Get("file", d.LibraryURL)
	if s := a.Get("style", ""); s != "" {
		d.Bibshow.Style, d.Bibcite.Style, d.Bibtex.Style = s, s, s
	}
	return d
}

// BibshowConfig configures an opening bibliography directive.
type BibshowConfig struct {
	File     string
	Style    string
	Template string
}

// BibciteConfig configures an inline citation. An empty File means "use the
// enclosing bibliography's library".
type BibciteConfig struct {
	Keys     []string
	File     string
	Style    string
	Template string
}

// BibtexConfig configures a standalone bibliography.
type BibtexConfig struct {
	Keys       []string
	File       string
	Style      string
	Template   string
	Sort       string
	Descending bool
}

// ParseBibshow resolves bibshow attributes against d.
func ParseBibshow(a shortcode.Attrs, d Defaults) BibshowConfig {
	return BibshowConfig{
		File:     a.Get("file", d.LibraryURL),
		Style:    a.Get("style", d.Bibshow.Style),
		Template: a.Get("template", d.Bibshow.Template),
	}
}

// ParseBibcite resolves bibcite attributes against d.
func ParseBibcite(a shortcode.Attrs, d Defaults) BibciteConfig {
	return BibciteConfig{
		Keys:     SplitKeys(a.Get("key", a.Get("0", ""))),
		File:     a.Get("file", ""),
		Style:    a.Get("style", d.Bibcite.Style),
		Template: a.Get("template", d.Bibcite.Template),
	}
}

// ParseBibtex resolves bibtex attributes against d. Any order other than
// "desc" sorts ascending.
func ParseBibtex(a shortcode.Attrs, d Defaults) BibtexConfig {
	return BibtexConfig{
		Keys:       SplitKeys(a.Get("key", a.Get("0", ""))),
		File:       a.Get("file", d.LibraryURL),
		Style:      a.Get("style", d.Bibtex.Style),
		Template:   a.Get("template", d.Bibtex.Template),
		Sort:       strings.TrimSpace(a.Get("sort", "")),
		Descending: strings.EqualFold(strings.TrimSpace(a.Get("order", "asc")), "desc"),
	}
}

// SplitKeys splits a comma-separated key list, dropping blanks.
func SplitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
