// Package dedup suppresses redelivered webhook events via a bounded
// recency cache of event fingerprints.
package dedup

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a capacity-bounded set of event fingerprints.
// When the capacity is exceeded the least-recently-inserted
// fingerprint is evicted, the dedup window is therefore bounded by
// capacity, not by time. Absence of a fingerprint is not proof that
// the event was never seen.
type Cache struct {
	fingerprints *lru.Cache[string, struct{}]
}

func New(capacity int) (*Cache, error) {
	fingerprints, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}

	return &Cache{fingerprints: fingerprints}, nil
}

// SeenOrInsert reports whether the fingerprint is already in the
// cache and inserts it if it is not.
// Check and insert happen as one atomic operation, concurrent calls
// for the same fingerprint report it as new exactly once.
func (c *Cache) SeenOrInsert(fingerprint string) bool {
	seen, _ := c.fingerprints.ContainsOrAdd(fingerprint, struct{}{})
	return seen
}

func (c *Cache) Len() int {
	return c.fingerprints.Len()
}
