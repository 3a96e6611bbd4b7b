package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores collaborator responses by key
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key builds a namespaced cache key from a kind and the request inputs.
// Parts are length-prefixed so that ("ab","c") and ("a","bc") differ.
func Key(kind string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		var n [8]byte
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return "nbgrade:v1:" + kind + ":" + hex.EncodeToString(h.Sum(nil))
}
