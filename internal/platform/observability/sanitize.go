package observability

import "unicode"

// clean drops control characters and truncates to limit runes.
func clean(value string, limit int) string {
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return string(out)
}

// SanitizeRoute guards route patterns written to logs.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

// SanitizeUserID limits identifiers written to logs.
func SanitizeUserID(uid string) string {
	return clean(uid, 64)
}
