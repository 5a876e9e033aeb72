package convert

import (
	"strings"
	"unicode"
)

// parseNames splits a BibTeX name list on top-level "and".
func parseNames(s string) []map[string]any {
	var out []map[string]any
	for _, raw := range splitDepth0(s, func(words []string, i int) bool {
		return strings.EqualFold(words[i], "and")
	}) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.EqualFold(raw, "others") {
			out = append(out, map[string]any{"literal": "et al."})
			continue
		}
		out = append(out, parseName(raw))
	}
	return out
}

// splitDepth0 splits s into space-separated words at brace depth zero and
// regroups them around the words for which isSep reports true.
func splitDepth0(s string, isSep func(words []string, i int) bool) []string {
	words := wordsDepth0(s)
	var (
		out []string
		cur []string
	)
	for i := range words {
		if isSep(words, i) {
			out = append(out, strings.Join(cur, " "))
			cur = nil
			continue
		}
		cur = append(cur, words[i])
	}
	return append(out, strings.Join(cur, " "))
}

func wordsDepth0(s string) []string {
	var (
		words []string
		sb    strings.Builder
		depth int
	)
	flush := func() {
		if sb.Len() > 0 {
			words = append(words, sb.String())
			sb.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '{':
			depth++
		case r == '}':
			if depth > 0 {
				depth--
			}
		case unicode.IsSpace(r) && depth == 0:
			flush()
			continue
		}
		sb.WriteRune(r)
	}
	flush()
	return words
}

// commaParts splits a name on commas at brace depth zero.
func commaParts(s string) []string {
	var (
		parts []string
		sb    strings.Builder
		depth int
	)
	for _, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(sb.String()))
				sb.Reset()
				continue
			}
		}
		sb.WriteRune(r)
	}
	return append(parts, strings.TrimSpace(sb.String()))
}

func parseName(raw string) map[string]any {
	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") && len(wordsDepth0(raw)) == 1 {
		return map[string]any{"literal": stripBraces(raw)}
	}

	parts := commaParts(raw)
	name := map[string]any{}
	switch len(parts) {
	case 1:
		words := wordsDepth0(parts[0])
		if len(words) == 1 {
			name["family"] = stripBraces(words[0])
			break
		}
		last := len(words) - 1
		vonStart, vonEnd := -1, -1
		for i := 1; i < last; i++ {
			if isLowerWord(words[i]) {
				if vonStart < 0 {
					vonStart = i
				}
				vonEnd = i
			}
		}
		if vonStart < 0 {
			setName(name, "given", words[:last])
			setName(name, "family", words[last:])
			break
		}
		setName(name, "given", words[:vonStart])
		setName(name, "non-dropping-particle", words[vonStart:vonEnd+1])
		setName(name, "family", words[vonEnd+1:])
	default:
		family := wordsDepth0(parts[0])
		var particle []string
		for len(family) > 1 && isLowerWord(family[0]) {
			particle = append(particle, family[0])
			family = family[1:]
		}
		setName(name, "non-dropping-particle", particle)
		setName(name, "family", family)
		if len(parts) == 2 {
			setName(name, "given", wordsDepth0(parts[1]))
		} else {
			setName(name, "suffix", wordsDepth0(parts[1]))
			setName(name, "given", wordsDepth0(strings.Join(parts[2:], " ")))
		}
	}
	return name
}

func setName(name map[string]any, part string, words []string) {
	if len(words) == 0 {
		return
	}
	name[part] = stripBraces(strings.Join(words, " "))
}

func isLowerWord(w string) bool {
	for _, r := range w {
		if r == '{' {
			return false
		}
		if unicode.IsLetter(r) {
			return unicode.IsLower(r)
		}
	}
	return false
}
