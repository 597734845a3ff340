// Package sha256 fingerprints extracted page text. The worker drops a page
// from the summarization corpus when its fingerprint matches an earlier page,
// which catches docs served under several URLs (trailing slash, index.html,
// versioned aliases).
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PageHasher implements crawler.Hasher for corpus deduplication.
type PageHasher struct{}

// New returns a PageHasher.
func New() *PageHasher {
	return &PageHasher{}
}

// Hash returns the hex SHA-256 of text with whitespace runs collapsed, so two
// renderings of one page that differ only in layout share a fingerprint.
func (PageHasher) Hash(text []byte) (string, error) {
	normalized := strings.Join(strings.Fields(string(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
