// Package text cleans user-supplied free text before it is stored.
package text

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNoteLength is the longest note kept, in runes.
const MaxNoteLength = 500

var strict = bluemonday.StrictPolicy()

// SanitizeNote strips all markup, trims whitespace and truncates to
// MaxNoteLength runes. It returns nil when nothing is left.
func SanitizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	s := strings.TrimSpace(strict.Sanitize(*note))
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > MaxNoteLength {
		s = string([]rune(s)[:MaxNoteLength])
	}
	return &s
}

// Clean strips markup from a short single-line value such as a username.
func Clean(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}
