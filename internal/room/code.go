package room

import (
	"crypto/rand"
	"regexp"
)

// Room codes are 6 characters from a restricted alphabet: uppercase letters
// and digits minus the lookalikes I, O, 0 and 1.
const (
	CodeLen      = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var codeRe = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)

// GenerateCode returns a random room code.
func GenerateCode() string {
	b := make([]byte, CodeLen)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// ValidCode reports whether s is a well-formed room code. This is a pure
// local check — callers must reject bad codes before touching the store.
func ValidCode(s string) bool {
	return codeRe.MatchString(s)
}
