package oauth

import "strings"

// RequireScope reports whether the required scope is present in a
// space-delimited granted scope string. Protected operations compose
// it explicitly; there is no implicit wrapping.
func RequireScope(required, granted string) bool {
	if required == "" {
		return true
	}
	for _, scope := range strings.Fields(granted) {
		if scope == required {
			return true
		}
	}
	return false
}
