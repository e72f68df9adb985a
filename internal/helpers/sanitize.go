package helpers

import "strings"

// SanitizeString replaces characters unsuitable for HAProxy identifiers
// (backend names, ACL names) with underscores. Allows alphanumeric
// characters, hyphen, and underscore.
func SanitizeString(input string) string {
	if input == "" {
		return ""
	}
	var result strings.Builder
	result.Grow(len(input))

	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}

// SanitizeLabelValue strips double quotes from a metrics label value, since
// a Prometheus label value may not itself contain an unescaped quote.
func SanitizeLabelValue(value string) string {
	return strings.ReplaceAll(value, `"`, "")
}
