package config

import (
	"strings"
)

const maxFragmentLen = 80

// SanitizeFragment normalizes s into a path-safe fragment. Separators and
// characters that are unsafe on common filesystems are replaced with
// underscores, surrounding whitespace and dots are trimmed, and the result
// is capped at a fixed rune length.
func SanitizeFragment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")
	runes := []rune(out)
	if len(runes) > maxFragmentLen {
		out = string(runes[:maxFragmentLen])
		out = strings.Trim(out, " .")
	}
	return out
}

// SubdirForContent derives a directory name from the first two words of a
// post's text, the way archived attachments are grouped on disk. Posts with
// no usable text land in "no_content".
func SubdirForContent(content string) string {
	words := strings.Fields(content)
	if len(words) > 2 {
		words = words[:2]
	}
	name := SanitizeFragment(strings.Join(words, "_"))
	if name == "" {
		return "no_content"
	}
	return name
}
