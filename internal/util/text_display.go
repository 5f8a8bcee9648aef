package util

import (
	"strings"
	"unicode"
)

// DisplaySnippet cleans a string for use in notifications and alert payloads.
func DisplaySnippet(s string, maxRunes int) string {
	return trimClean(s, maxRunes)
}

func trimClean(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			b.WriteRune(' ')
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	out := b.String()
	runes := []rune(out)
	if maxRunes > 0 && len(runes) > maxRunes {
		out = strings.TrimSpace(string(runes[:maxRunes])) + "..."
	}
	return out
}
