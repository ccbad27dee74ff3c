// Package sha256 computes the content_hash recorded on every successful cache
// entry. The store hashes snapshot bytes before writing the blob, and absorb
// fills in the hash for foreign entries that were stored without one.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements archive.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 of a snapshot body.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
