// Package phone canonicalizes customer phone input to E.164.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhone is returned when input cannot be normalized to E.164.
var ErrInvalidPhone = errors.New("invalid phone number")

var e164Pattern = regexp.MustCompile(`^\+\d{1,15}$`)

// Normalizer canonicalizes raw phone input for one default country.
type Normalizer struct {
	countryCode string
	localLength int
}

// NewNormalizer returns a normalizer for the given default country code
// (digits only, e.g. "90") and local significant-number length.
func NewNormalizer(countryCode string, localLength int) *Normalizer {
	return &Normalizer{countryCode: countryCode, localLength: localLength}
}

// Normalize converts raw input to E.164. Accepted shapes: +905551234567,
// 905551234567, 05551234567, 5551234567, any of those with spaces or dashes.
func (n *Normalizer) Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidPhone
	}

	hasPlus := strings.HasPrefix(trimmed, "+")
	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	ds := digits.String()
	if ds == "" {
		return "", ErrInvalidPhone
	}

	var normalized string
	switch {
	case hasPlus:
		normalized = "+" + ds
	case strings.HasPrefix(ds, n.countryCode) && len(ds) == len(n.countryCode)+n.localLength:
		normalized = "+" + ds
	case strings.HasPrefix(ds, "0"):
		normalized = "+" + n.countryCode + ds[1:]
	case len(ds) == n.localLength:
		normalized = "+" + n.countryCode + ds
	default:
		// Assume the country code is embedded.
		normalized = "+" + ds
	}

	if !e164Pattern.MatchString(normalized) {
		return "", ErrInvalidPhone
	}
	if strings.HasPrefix(normalized, "+"+n.countryCode) &&
		len(normalized) != 1+len(n.countryCode)+n.localLength {
		return "", ErrInvalidPhone
	}
	return normalized, nil
}
