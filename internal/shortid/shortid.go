// shortid.go - random base-36 object identifiers.

// Package shortid generates the 6-character identifiers that name stored
// objects. An id is a capability handle, not a secret: 36^6 is about 2^31.
package shortid

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// Alphabet is the symbol set ids are drawn from.
	Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// Length is the fixed id length.
	Length = 6
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a new id with every character drawn independently and
// uniformly from Alphabet using crypto/rand.
func Generate() (string, error) {
	b := make([]byte, Length)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("shortid: read random: %w", err)
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b), nil
}

// Valid reports whether s has the shape of an id.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
