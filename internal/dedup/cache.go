// Package dedup tracks ids of push events that were already processed so an
// at-least-once transport cannot make the session core apply one twice.
package dedup

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the number of event ids remembered per session.
const DefaultCapacity = 500

// Cache is a bounded set of event ids with oldest-first eviction.
// Membership checks never refresh an entry, so eviction order is insertion
// order. Safe for concurrent use.
type Cache struct {
	ids      *lru.Cache[string, struct{}]
	capacity int
}

// New creates a cache holding at most capacity ids.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ids, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}
	return &Cache{ids: ids, capacity: capacity}, nil
}

// Seen reports whether id was already recorded. An unseen id is recorded
// before returning, evicting the oldest entry when the cache is full.
func (c *Cache) Seen(id string) bool {
	seen, _ := c.ids.ContainsOrAdd(id, struct{}{})
	return seen
}

// Contains reports membership without recording anything.
func (c *Cache) Contains(id string) bool {
	return c.ids.Contains(id)
}

// Len returns the number of remembered ids.
func (c *Cache) Len() int { return c.ids.Len() }

// Cap returns the configured capacity.
func (c *Cache) Cap() int { return c.capacity }

// IDs returns the remembered ids, oldest first.
func (c *Cache) IDs() []string { return c.ids.Keys() }

// Reset forgets every id (logout, channel disconnect).
func (c *Cache) Reset() { c.ids.Purge() }
