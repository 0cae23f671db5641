// Package sha256 derives content digests and entity tags for captured images.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements capture.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong entity tag for data, quoted for direct use in an
// ETag header. Empty input has no tag.
func (h *Hasher) ETag(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return `"` + h.Hash(data)[:32] + `"`
}
