// Package token generates single-use coupon redemption tokens.
package token

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Length of 12 over a 36-symbol alphabet gives a token space of
	// 36^12 (~2^62), large enough that guessing is infeasible.
	Length = 12
)

var formatPattern = regexp.MustCompile(`^[A-Z0-9]{12}$`)

// Generate returns a new random token. One random byte is consumed per
// output character, mapped into the alphabet by modulo; the residual bias
// from 256 not dividing 36 is accepted for this token space.
func Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, Length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	tok := string(out)
	if !Valid(tok) {
		return "", fmt.Errorf("generated token failed self-check: %q", tok)
	}
	return tok, nil
}

// Valid reports whether s is a well-formed token. It is independent of
// generation and used for input validation as well.
func Valid(s string) bool {
	return formatPattern.MatchString(s)
}
