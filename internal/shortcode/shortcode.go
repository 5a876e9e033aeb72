// Package shortcode tokenizes bracketed directives such as
// [bibshow file="..."]...[/bibshow] and [bibcite key=a,b] in document text.
package shortcode

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Attrs holds directive attributes; keys are lowercased.
type Attrs map[string]string

// Get returns the attribute value or def when absent or blank.
func (a Attrs) Get(key, def string) string {
	if v, ok := a[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Tag is one opening directive.
type Tag struct {
	Name  string
	Attrs Attrs
	Raw   string
	// Enclosed is true when the tag was matched with a closing [/name].
	Enclosed bool
}

// Node is either literal text (Tag == nil) or a directive with the nodes it
// encloses.
type Node struct {
	Text     string
	Tag      *Tag
	Children []Node
}

type kind int

const (
	textTok kind = iota
	openTok
	closeTok
)

type token struct {
	kind        kind
	name        string
	attrs       Attrs
	raw         string
	selfClosing bool
}

// Parser recognises a fixed set of directive names.
type Parser struct {
	re        *regexp.Regexp
	enclosing map[string]bool
}

// New builds a Parser for names. Names listed in enclosing may wrap content
// and be closed by [/name].
func New(names []string, enclosing ...string) *Parser {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	// [[name ...]] is an escape and renders as the literal [name ...].
	re := regexp.MustCompile(`\[(\[?)(/?)(` + strings.Join(quoted, "|") + `)((?:\s[^\]]*?)?)(/?)\](\]?)`)
	enc := make(map[string]bool, len(enclosing))
	for _, n := range enclosing {
		enc[n] = true
	}
	return &Parser{re: re, enclosing: enc}
}

// Parse splits content into a tree of text and directive nodes. Unmatched
// closing tags are kept as text; enclosing tags without a closing tag are
// treated as self-closing.
func (p *Parser) Parse(content string) []Node {
	toks := p.tokenize(content)
	nodes, _, _ := p.build(toks, 0, "")
	return nodes
}

func (p *Parser) tokenize(content string) []token {
	var (
		out  []token
		last int
	)
	text := func(s string) {
		if s == "" {
			return
		}
		if n := len(out); n > 0 && out[n-1].kind == textTok {
			out[n-1].raw += s
			return
		}
		out = append(out, token{kind: textTok, raw: s})
	}

	for _, m := range p.re.FindAllStringSubmatchIndex(content, -1) {
		raw := content[m[0]:m[1]]
		group := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return content[m[2*i]:m[2*i+1]]
		}
		text(content[last:m[0]])
		last = m[1]

		escOpen, escClose := group(1) == "[", group(6) == "]"
		if escOpen && escClose {
			text(raw[1 : len(raw)-1])
			continue
		}
		if escOpen {
			// A lone doubled bracket on one side only is literal text.
			text("[")
			raw = raw[1:]
		}

		tok := token{name: group(3), raw: raw, selfClosing: group(5) == "/"}
		if group(2) == "/" {
			tok.kind = closeTok
		} else {
			tok.kind = openTok
			tok.attrs = ParseAttrs(group(4))
		}
		if escClose {
			tok.raw = strings.TrimSuffix(tok.raw, "]")
		}
		out = append(out, tok)
		if escClose {
			text("]")
		}
	}
	text(content[last:])
	return out
}

func (p *Parser) build(toks []token, pos int, until string) ([]Node, int, bool) {
	var nodes []Node
	for pos < len(toks) {
		tok := toks[pos]
		switch tok.kind {
		case textTok:
			nodes = appendText(nodes, tok.raw)
			pos++
		case closeTok:
			pos++
			if tok.name == until {
				return nodes, pos, true
			}
			nodes = appendText(nodes, tok.raw)
		case openTok:
			pos++
			tag := &Tag{Name: tok.name, Attrs: tok.attrs, Raw: tok.raw}
			n := Node{Tag: tag}
			if p.enclosing[tok.name] && !tok.selfClosing && hasClose(toks[pos:], tok.name) {
				n.Children, pos, tag.Enclosed = p.build(toks, pos, tok.name)
			}
			nodes = append(nodes, n)
		}
	}
	return nodes, pos, false
}

func appendText(nodes []Node, s string) []Node {
	if n := len(nodes); n > 0 && nodes[n-1].Tag == nil {
		nodes[n-1].Text += s
		return nodes
	}
	return append(nodes, Node{Text: s})
}

func hasClose(toks []token, name string) bool {
	for _, t := range toks {
		if t.kind == closeTok && t.name == name {
			return true
		}
	}
	return false
}

var attrRe = regexp.MustCompile(`([\w-]+)\s*=\s*"([^"]*)"|([\w-]+)\s*=\s*'([^']*)'|([\w-]+)\s*=\s*([^\s'"]+)|"([^"]*)"|'([^']*)'|(\S+)`)

// ParseAttrs parses name="value", name='value' and name=value pairs.
// Positional values are stored under "0", "1", ...
func ParseAttrs(s string) Attrs {
	s = strings.NewReplacer("\u201c", `"`, "\u201d", `"`, "\u2033", `"`, "\u2018", "'", "\u2019", "'", "\u00a0", " ").Replace(html.UnescapeString(s))
	attrs := Attrs{}
	pos := 0
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		switch {
		case m[1] != "":
			attrs[strings.ToLower(m[1])] = m[2]
		case m[3] != "":
			attrs[strings.ToLower(m[3])] = m[4]
		case m[5] != "":
			attrs[strings.ToLower(m[5])] = m[6]
		default:
			v := m[7] + m[8] + m[9]
			if v == "/" {
				continue
			}
			attrs[strconv.Itoa(pos)] = v
			pos++
		}
	}
	return attrs
}
