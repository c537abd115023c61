package message

import "strings"

// Separator splits routing key segments.
const Separator = "."

// ValidType reports whether s is a well formed routing key.
// A valid key:
//   - Is not empty
//   - Does not start or end with a separator
//   - Does not contain empty segments
//   - Contains no whitespace
func ValidType(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, Separator) || strings.HasSuffix(s, Separator) {
		return false
	}
	if strings.Contains(s, Separator+Separator) {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n")
}

// Namespace returns the first segment of a routing key.
//
// Example: "plugin.debut" -> "plugin"
func Namespace(s string) string {
	if idx := strings.Index(s, Separator); idx >= 0 {
		return s[:idx]
	}
	return s
}

// JoinType joins segments into a routing key, skipping empty segments.
func JoinType(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, Separator)
}
