// Package history implements TxMessageHistory: a bounded, time-expiring
// record of recently transmitted message fingerprints, used to recognize
// and discard a multicast the responder receives back as an echo of its
// own send, per spec §4.7.
package history

import (
	"crypto/sha256"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// fingerprint is the SHA-256 digest of a serialized outbound (or inbound)
// datagram.
type fingerprint [sha256.Size]byte

// History tracks fingerprints of transmitted messages for HistoryTTL
// (10s, per spec §4.7), so a copy of one of our own multicasts looped back
// by the network is recognized as self and dropped rather than reprocessed.
type History struct {
	cache *lru.LRU[fingerprint, struct{}]
}

// New returns an empty History whose entries expire after ttl.
//
// The cache is sized generously rather than tightly bounded: spec §5
// states the only hard bound in the source is the 10s expiry itself, not
// an entry count, so a size cap here exists only to bound worst-case
// memory under a pathological send rate, not to model any behavior the
// spec describes.
func New(ttl time.Duration) *History {
	return &History{cache: lru.NewLRU[fingerprint, struct{}](4096, nil, ttl)}
}

// Fingerprint computes the fingerprint of a raw datagram.
func Fingerprint(data []byte) fingerprint {
	return sha256.Sum256(data)
}

// Record inserts data's fingerprint, marking it as one of our own sends.
func (h *History) Record(data []byte) {
	h.cache.Add(Fingerprint(data), struct{}{})
}

// Contains reports whether data's fingerprint was recorded within the
// last HistoryTTL.
func (h *History) Contains(data []byte) bool {
	_, ok := h.cache.Get(Fingerprint(data))
	return ok
}

// Len reports the number of unexpired fingerprints currently held.
func (h *History) Len() int {
	return h.cache.Len()
}
