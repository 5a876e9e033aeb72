package bibtex

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// bibLexer covers every input rune, so lexing never fails. Whitespace is kept
// because field values are reconstructed from the token stream.
var bibLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "At", Pattern: `@`},
	{Name: "LBrace", Pattern: `\{`},
	{Name: "RBrace", Pattern: `\}`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Equals", Pattern: `=`},
	{Name: "Hash", Pattern: `#`},
	{Name: "Quote", Pattern: `"`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Word", Pattern: `[^\s{}()@,=#"]+`},
})

// bibFile is a sequence of @-items separated by free text, which is skipped.
// A stray '@' that does not open an item is treated as free text.
type bibFile struct {
	Items []*bibItem `( @@ | ~At | At )*`
}

// bibItem is one @type{...} or @type(...) block.
type bibItem struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Type   string     `At Whitespace? @Word Whitespace?`
	Braced *braceBody `( @@`
	Parens *parenBody `| @@ )`
}

// braceBody is a balanced {...} group.
type braceBody struct {
	Nodes []*braceNode `LBrace @@* RBrace`
}

type braceNode struct {
	Group *braceBody `  @@`
	Text  string     `| @( Word | Whitespace | Comma | Equals | Hash | Quote | At | LParen | RParen )`
}

// parenBody is the (...) form of an item body. Unbraced parentheses cannot
// nest inside it.
type parenBody struct {
	Nodes []*parenNode `LParen @@* RParen`
}

type parenNode struct {
	Group *braceBody `  @@`
	Text  string     `| @( Word | Whitespace | Comma | Equals | Hash | Quote | At )`
}

var bibParser = participle.MustBuild[bibFile](
	participle.Lexer(bibLexer),
	participle.UseLookahead(8),
)

// piece is either a run of literal text or a nested brace group.
type piece struct {
	text  string
	group *braceBody
}

func (p piece) isSpace() bool {
	return p.group == nil && strings.TrimSpace(p.text) == ""
}

// pieces flattens an item body into top-level pieces.
func (it *bibItem) pieces() []piece {
	var out []piece
	switch {
	case it.Braced != nil:
		for _, n := range it.Braced.Nodes {
			out = append(out, piece{text: n.Text, group: n.Group})
		}
	case it.Parens != nil:
		for _, n := range it.Parens.Nodes {
			out = append(out, piece{text: n.Text, group: n.Group})
		}
	}
	return out
}

// inner returns the text of a group without its outer braces, with nested
// groups rendered verbatim.
func (b *braceBody) inner() string {
	var sb strings.Builder
	for _, n := range b.Nodes {
		if n.Group != nil {
			sb.WriteString("{")
			sb.WriteString(n.Group.inner())
			sb.WriteString("}")
			continue
		}
		sb.WriteString(n.Text)
	}
	return sb.String()
}

func raw(ps []piece) string {
	var sb strings.Builder
	for _, p := range ps {
		if p.group != nil {
			sb.WriteString("{")
			sb.WriteString(p.group.inner())
			sb.WriteString("}")
			continue
		}
		sb.WriteString(p.text)
	}
	return sb.String()
}

// splitTop splits ps on the separator token, ignoring separators that sit
// inside a double-quoted value.
func splitTop(ps []piece, sep string) [][]piece {
	var (
		out     [][]piece
		cur     []piece
		inQuote bool
	)
	for _, p := range ps {
		if p.group == nil {
			if p.text == `"` {
				inQuote = !inQuote
			} else if p.text == sep && !inQuote {
				out = append(out, cur)
				cur = nil
				continue
			}
		}
		cur = append(cur, p)
	}
	return append(out, cur)
}

func trimSpace(ps []piece) []piece {
	for len(ps) > 0 && ps[0].isSpace() {
		ps = ps[1:]
	}
	for len(ps) > 0 && ps[len(ps)-1].isSpace() {
		ps = ps[:len(ps)-1]
	}
	return ps
}
