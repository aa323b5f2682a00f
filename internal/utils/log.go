package utils

import (
	"strings"
	"unicode"
)

// maxLogLength bounds a sanitized value. Shard paths and tensor names are
// well below it; anything longer is most likely a corrupt header.
const maxLogLength = 256

// SanitizeForLog makes a string read from an input file safe to log: line
// breaks and tabs are escaped, other control or non-printable characters are
// replaced with '?', and the result is truncated to a bounded length.
func SanitizeForLog(s string) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n':
			result.WriteString("\\n")
		case r == '\r':
			result.WriteString("\\r")
		case r == '\t':
			result.WriteString("\\t")
		case r == '\\':
			result.WriteString("\\\\")
		case unicode.IsControl(r), !unicode.IsPrint(r):
			result.WriteString("?")
		default:
			result.WriteRune(r)
		}
		if result.Len() > maxLogLength {
			break
		}
	}

	if result.Len() > maxLogLength {
		return result.String()[:maxLogLength] + "...[truncated]"
	}
	return result.String()
}
