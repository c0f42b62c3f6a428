package middleware

import "strings"

// MaskToken masks a session token for logs (never log the full token).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
