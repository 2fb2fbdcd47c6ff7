package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashText computes the SHA-256 hash of the raw text, hex encoded.
// Used for opaque output blobs (G-code text) where the bytes themselves
// are the content.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashObject computes the SHA-256 hash of v's canonical JSON form.
// The hash is reproducible by re-reading the stored payload and
// hashing it again: key order and formatting of the source do not
// matter, only logical content.
func HashObject(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical: hash object: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MustHashObject is like HashObject but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashObject(v any) string {
	h, err := HashObject(v)
	if err != nil {
		panic(err)
	}
	return h
}
