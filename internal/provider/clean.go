package provider

import (
	"strings"
	"unicode/utf8"
)

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'“', '”'},
	{'‘', '’'},
}

var labelPrefixes = []string{"description:", "image description:"}

// CleanResponse normalizes raw model output: surrounding whitespace, a
// leading "Description:" label and a matching pair of wrapping quotes are
// removed. Quotes are kept when the text quotes something else inside, as in
// `"Stop" is painted on the "All Way" sign`. Single-word answers also lose a
// trailing period.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range labelPrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	s = strings.TrimSpace(unquote(s))
	if !strings.ContainsAny(s, " \t\n") {
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

func unquote(s string) string {
	first, fw := utf8.DecodeRuneInString(s)
	last, lw := utf8.DecodeLastRuneInString(s)
	if len(s) < fw+lw {
		return s
	}
	for _, q := range quotePairs {
		if first != q[0] || last != q[1] {
			continue
		}
		inner := s[fw : len(s)-lw]
		if strings.ContainsRune(inner, q[0]) || strings.ContainsRune(inner, q[1]) {
			return s
		}
		return inner
	}
	return s
}
