// Package masking redacts PII before it reaches logs or durable storage.
// All transforms are total and idempotent on already-masked input shapes.
package masking

import (
	"strings"
)

// MaskPhone reveals the last 4 characters. Inputs of 4 characters or fewer
// keep only the final character visible.
func MaskPhone(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s)-1) + s[len(s)-1:]
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// MaskToken reveals the first 4 and last 4 characters. Inputs of 8 or fewer
// characters reveal first 2 and last 2; inputs of 4 or fewer are returned
// unmasked since masking them carries no information.
func MaskToken(s string) string {
	if len(s) <= 4 {
		return s
	}
	if len(s) <= 8 {
		return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// MaskEmail reveals the first local-part character and the full domain.
// Strings without an @ pass through unchanged.
func MaskEmail(s string) string {
	at := strings.Index(s, "@")
	if at <= 0 {
		return s
	}
	return s[:1] + "***" + s[at:]
}

// MaskGeneric reveals the first 4 and last 4 characters of strings of at
// least 8 characters; shorter strings are masked entirely.
func MaskGeneric(s string) string {
	if len(s) < 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
