package logging

import (
	"strings"
	"unicode"
)

// maxLogRunes bounds the visible length of a sanitized value.
const maxLogRunes = 100

const truncatedSuffix = "...[truncated]"

// SanitizeForLog makes a user-supplied string, such as a model ID, revision or
// request path, safe to embed in a log line. Line breaks and tabs are escaped,
// backslashes are doubled, and other control, bidirectional-override and
// non-printable runes become '?'. Values longer than maxLogRunes runes are cut
// on a rune boundary, never inside an escape sequence.
func SanitizeForLog(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), 4*maxLogRunes))

	n := 0
	for _, r := range s {
		if n == maxLogRunes {
			b.WriteString(truncatedSuffix)
			break
		}
		b.WriteString(escapeRune(r))
		n++
	}
	return b.String()
}

func escapeRune(r rune) string {
	switch {
	case r == '\n':
		return `\n`
	case r == '\r':
		return `\r`
	case r == '\t':
		return `\t`
	case r == '\\':
		return `\\`
	case unicode.IsControl(r), unicode.Is(unicode.Bidi_Control, r), !unicode.IsPrint(r):
		return "?"
	default:
		return string(r)
	}
}
