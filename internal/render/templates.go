package render

import (
	"embed"
	"fmt"
	"html/template"
	"path"
	"sort"
	"strings"
)

// FallbackTemplate is used whenever a requested template cannot be resolved.
const FallbackTemplate = "built-in-unordered-list"

const fallbackSource = `<ul class="bibcite-default-template">{{range .Entries}}<li>{{.Entry}}</li>{{end}}</ul>`

// TemplateExt is the file extension of user templates.
const TemplateExt = ".html"

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

func parseTemplate(name, src string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

var fallbackTmpl = template.Must(parseTemplate(FallbackTemplate, fallbackSource))

func builtinTemplate(name string) (*template.Template, error) {
	data, err := templateFS.ReadFile(path.Join("templates", name+TemplateExt))
	if err != nil {
		return nil, err
	}
	return parseTemplate(name, strings.TrimRight(string(data), "\n"))
}

func builtinTemplateNames() []string {
	entries, _ := templateFS.ReadDir("templates")
	names := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		if n, ok := strings.CutSuffix(e.Name(), TemplateExt); ok {
			names = append(names, n)
		}
	}
	names = append(names, FallbackTemplate)
	sort.Strings(names)
	return names
}

// CheckTemplate reports whether src compiles as a list template.
func CheckTemplate(name string, src []byte) error {
	_, err := parseTemplate(name, string(src))
	return err
}
