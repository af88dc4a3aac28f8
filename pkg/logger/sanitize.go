package logger

import (
	"strings"
)

// SanitizedPrincipal masks a principal key for logging. Email-shaped keys
// keep the first character and the TLD; plain usernames keep the first and
// last characters.
func SanitizedPrincipal(key string) string {
	if key == "" {
		return ""
	}

	if at := strings.IndexByte(key, '@'); at > 0 {
		local := key[:at]
		domain := key[at+1:]
		masked := string(local[0]) + strings.Repeat("*", len(local)-1)
		if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
			domain = strings.Repeat("*", dot) + domain[dot:]
		}
		return masked + "@" + domain
	}

	if len(key) <= 2 {
		return strings.Repeat("*", len(key))
	}
	return string(key[0]) + strings.Repeat("*", len(key)-2) + string(key[len(key)-1])
}

// SanitizeQueryString reports whether a query string carries sensitive
// parameters and should be redacted wholesale from request logs.
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password",
		"token",
		"secret",
		"ticket",
		"otp",
		"auth",
		"session",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
