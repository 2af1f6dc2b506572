package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen bounds description cells in table output.
const DefaultDescriptionMaxLen = 60

// MinTruncateLen is the smallest usable maxLen: one character plus the
// ellipsis.
const MinTruncateLen = 4

const ellipsis = "..."

// shortIDLen is the prefix length used for entry ids in table output.
// UUIDs collide on 8 hex chars only past tens of thousands of entries.
const shortIDLen = 8

// TruncateDescription flattens s to a single line and truncates it to
// maxLen characters, appending "..." when anything was cut. Counting is
// rune-based so multi-byte characters are never split. A maxLen below
// MinTruncateLen is clamped up to it.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	// Fields splits on any whitespace run, so newlines and tabs collapse
	// to single spaces and the edges are trimmed in one pass.
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// ShortID abbreviates an entry id for display. UUIDs are cut at the
// first group boundary; anything shorter passes through unchanged.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}
