// Package secret generates opaque high-entropy credentials and the lookup
// hashes stored in their place.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// DefaultSize is the number of random bytes behind every opaque credential.
const DefaultSize = 32

// MaxEncodedLength bounds presented credentials before they are hashed.
const MaxEncodedLength = 512

// ErrMalformed is returned by Validate for empty, oversized or non-base64url input.
var ErrMalformed = errors.New("malformed secret")

// New returns prefix followed by size random bytes encoded as unpadded
// base64url.
func New(prefix string, size int) (string, error) {
	if size <= 0 {
		size = DefaultSize
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Hash returns the hex SHA-256 of the presented credential. The inputs are
// uniformly random, so an unsalted digest is enough and keeps lookup O(1)
// through a unique index.
func Hash(presented string) string {
	sum := sha256.Sum256([]byte(presented))
	return hex.EncodeToString(sum[:])
}

// Validate rejects input that cannot be a credential produced by New with the
// given prefix, so obviously bad values never reach the store.
func Validate(prefix, presented string) error {
	if presented == "" || len(presented) > MaxEncodedLength {
		return ErrMalformed
	}
	if !strings.HasPrefix(presented, prefix) {
		return ErrMalformed
	}
	body := presented[len(prefix):]
	if body == "" {
		return ErrMalformed
	}
	if _, err := base64.RawURLEncoding.DecodeString(body); err != nil {
		return ErrMalformed
	}
	return nil
}

// DisplayPrefix returns the first n characters of a credential for listings.
func DisplayPrefix(presented string, n int) string {
	if len(presented) <= n {
		return presented
	}
	return presented[:n]
}
