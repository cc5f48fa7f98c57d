// Package metacache provides a bounded item_id -> committed-version hint
// cache, letting write admission reject a stale version without a syscall.
// The on-disk metadata file remains the source of truth; this cache only
// short-circuits the common "someone retried with a stale version" case.
package metacache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the default number of item_id entries retained.
const DefaultSize = 4096

// Cache is a bounded item_id -> last-known-committed-version map.
type Cache struct {
	lru *lru.Cache[string, uint64]
}

// New returns a Cache holding at most size entries, evicting least-recently
// used item_ids once full.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}

	c, err := lru.New[string, uint64](size)
	if err != nil {
		return nil, err
	}

	return &Cache{lru: c}, nil
}

// Get returns the last-known committed version for itemID, if cached.
func (c *Cache) Get(itemID string) (uint64, bool) {
	return c.lru.Get(itemID)
}

// Set records itemID's committed version, overwriting any prior (possibly
// lower) hint. Called on every successful Writer.Finalize.
func (c *Cache) Set(itemID string, version uint64) {
	c.lru.Add(itemID, version)
}
