package textutil

import (
	"strings"
	"unicode"
)

const maxSlugRunes = 48

// Slug reduces value to a lowercase token safe for file names: letters and
// digits are kept, every other run of characters collapses to one underscore.
// Empty results become "untitled".
func Slug(value string) string {
	var b strings.Builder
	pendingSep := false
	count := 0
	for _, r := range strings.ToLower(value) {
		if count >= maxSlugRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
				count++
			}
			b.WriteRune(r)
			count++
			pendingSep = false
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "untitled"
	}
	return b.String()
}
