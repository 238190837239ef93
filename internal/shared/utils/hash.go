package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher provides content hashing for sources and locators
type Hasher struct{}

// DefaultHasher returns a SHA-256 hasher
func DefaultHasher() *Hasher {
	return &Hasher{}
}

// Hash computes a hex digest of the input data
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString computes a hex digest of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashFields hashes fields joined with a delimiter, preserving order
func (h *Hasher) HashFields(fields ...string) string {
	return h.HashString(strings.Join(fields, "|"))
}

// Short truncates a digest to 8 characters for display and identifiers
func Short(digest string) string {
	if len(digest) < 8 {
		return digest
	}
	return digest[:8]
}
