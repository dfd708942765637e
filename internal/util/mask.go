package util

import "strings"

// MaskSecret keeps the first 6 and last 4 characters of a secret.
// Anything too short to leave a hidden middle is fully masked.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 10 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:6] + strings.Repeat("*", len(secret)-10) + secret[len(secret)-4:]
}

// Redact replaces every occurrence of the given secrets in s with their masked form.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, MaskSecret(secret))
	}
	return s
}
