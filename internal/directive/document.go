package directive

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/bibcite/internal/shortcode"
)

// FrontmatterSection is the frontmatter mapping that overrides directive
// defaults for one document (keys: file, style).
const FrontmatterSection = "bibcite"

// Document drives a Processor over marked-up text.
type Document struct {
	proc   *Processor
	parser *shortcode.Parser
}

// NewDocument creates a Document driver for p.
func NewDocument(p *Processor) *Document {
	return &Document{proc: p, parser: shortcode.New(Names, Bibshow)}
}

// Process replaces every directive in content with its rendering. docID
// identifies the document scope; an empty id gets a fresh one so concurrent
// anonymous documents never share state.
func (d *Document) Process(ctx context.Context, docID, content string) string {
	if docID == "" {
		docID = uuid.NewString()
	}
	defs := d.proc.Defaults()
	if fm, body := shortcode.SplitFrontmatter([]byte(content)); fm != nil {
		if sec := shortcode.Section(fm, FrontmatterSection); sec != nil {
			defs = defs.withOverrides(sec)
			content = body
		}
	}
	var sb strings.Builder
	d.walk(ctx, &sb, docID, d.parser.Parse(content), defs)
	return sb.String()
}

func (d *Document) walk(ctx context.Context, sb *strings.Builder, docID string, nodes []shortcode.Node, defs Defaults) {
	for _, n := range nodes {
		if n.Tag == nil {
			sb.WriteString(n.Text)
			continue
		}
		switch n.Tag.Name {
		case Bibshow:
			d.proc.Open(docID, ParseBibshow(n.Tag.Attrs, defs))
			var inner strings.Builder
			d.walk(ctx, &inner, docID, n.Children, defs)
			sb.WriteString(d.proc.Close(ctx, docID, inner.String()))
		case Bibcite:
			sb.WriteString(d.proc.Cite(ctx, docID, ParseBibcite(n.Tag.Attrs, defs)))
		case Bibtex:
			sb.WriteString(d.proc.Standalone(ctx, ParseBibtex(n.Tag.Attrs, defs)))
		}
	}
}
