package mcpserver

// DirectiveSyntax describes the bibliography directives understood by
// render_markup.
const DirectiveSyntax = `# Bibliography Directive Syntax

Documents cite entries from remote BibTeX or CSL-JSON libraries with three
square-bracket directives. Attribute values may be quoted with "", '' or left
bare when they contain no spaces.

## [bibshow] ... [/bibshow]

Opens a numbered bibliography for the enclosed text. Every [bibcite] inside
is numbered in order of first appearance and the reference list is appended
after the enclosed text.

| Attribute  | Meaning                                   | Default                    |
|------------|-------------------------------------------|----------------------------|
| file       | library URL                               | configured default library |
| style      | citation style name                       | ieee                       |
| template   | list template name                        | bibshow-definition-list    |

## [bibcite key=...]

Cites one or more comma-separated keys. Outside a [bibshow] block it renders
nothing. A key cited twice keeps its first number.

| Attribute  | Meaning                                   | Default                    |
|------------|-------------------------------------------|----------------------------|
| key        | comma-separated citation keys (required)  |                            |
| file       | library URL                               | the enclosing [bibshow]    |
| style      | citation style name                       | ieee                       |
| template   | list template name                        | bibcite-numbered-note      |

## [bibtex key=...]

Renders a standalone reference list, independent of any [bibshow] block.

| Attribute  | Meaning                                   | Default                    |
|------------|-------------------------------------------|----------------------------|
| key        | comma-separated citation keys (required)  |                            |
| file       | library URL                               | configured default library |
| sort       | CSL field to sort by (e.g. id, title)     | keep key order             |
| order      | asc or desc                               | asc                        |
| style      | citation style name                       | ieee                       |
| template   | list template name                        | bibtex-unordered-list      |

## Escaping

Write [[bibcite key=x]] to print a directive literally.

## Document defaults

A YAML frontmatter block with a ` + "`bibcite`" + ` mapping overrides the library and
style for the whole document:

` + "```" + `markdown
---
bibcite:
  file: https://example.org/library.bib
  style: apa
---
As shown in [bibshow][bibcite key=smith2020][/bibshow].
` + "```" + `

Unknown keys render as "Unknown entry"; unknown styles and templates fall back
to the defaults. Use list_styles and list_templates to see what is available.
`
