// Package sha256 fingerprints article content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	normalize bool
}

// New returns a hasher over the raw bytes.
func New() *Hasher {
	return &Hasher{}
}

// NewNormalized returns a hasher that ignores line-ending and surrounding
// whitespace differences, so a re-crawl of unchanged text keeps its digest.
func NewNormalized() *Hasher {
	return &Hasher{normalize: true}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	if h.normalize {
		text := strings.ReplaceAll(string(data), "\r\n", "\n")
		data = []byte(strings.TrimSpace(text))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
