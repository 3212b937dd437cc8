// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// SanitizePrompt prepares user-supplied prompt text for validation and
// provider submission: control characters are dropped (newlines survive),
// runs of horizontal whitespace collapse to a single space and the result
// is trimmed.
func SanitizePrompt(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
			space = false
		case r == ' ' || r == '\t':
			if !space {
				b.WriteRune(' ')
				space = true
			}
		case r >= 32 && r != 127:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}
