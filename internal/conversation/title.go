package conversation

import (
	"strings"
	"unicode"
)

// maxTitleRunes bounds a derived session title (§4.11: "a session's title is
// derived from its first user message the first time one lands, capped at a
// short display length").
const maxTitleRunes = 50

// titleBoundaryFraction is how far into the cap a word boundary must fall
// for the cut to land there instead of mid-word; either cut ends in an
// ellipsis.
const titleBoundaryFraction = 0.6

// DeriveTitle collapses whitespace in text and caps it to maxTitleRunes,
// preferring to break on a word boundary past titleBoundaryFraction of the
// cap rather than cutting mid-word.
func DeriveTitle(text string) string {
	collapsed := collapseWhitespace(text)
	if collapsed == "" {
		return ""
	}
	runes := []rune(collapsed)
	if len(runes) <= maxTitleRunes {
		return collapsed
	}

	minBoundary := int(float64(maxTitleRunes) * titleBoundaryFraction)
	cut := maxTitleRunes
	for i := maxTitleRunes; i > minBoundary; i-- {
		if unicode.IsSpace(runes[i-1]) {
			cut = i - 1
			break
		}
	}
	truncated := strings.TrimSpace(string(runes[:cut]))
	return truncated + "…"
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
