package grading

import "strings"

// normalize trims surrounding whitespace and casefolds.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
