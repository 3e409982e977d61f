// Package sha256 computes content digests used to name archived blobs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is the number of hex characters kept in blob names.
const ShortLen = 16

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short truncates a hex digest to ShortLen characters for use in object names.
func Short(digest string) string {
	if len(digest) <= ShortLen {
		return digest
	}
	return digest[:ShortLen]
}
