package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// NegativeCache remembers missing origins for a short, bounded time.
type NegativeCache struct {
	lru *expirable.LRU[string, struct{}]
}

// NewNegativeCache creates a not-found cache. A non-positive ttl disables it.
func NewNegativeCache(capacity int, ttl time.Duration) *NegativeCache {
	if ttl <= 0 {
		return &NegativeCache{}
	}
	return &NegativeCache{lru: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// Add records key as missing.
func (c *NegativeCache) Add(key string) {
	if c.lru != nil {
		c.lru.Add(key, struct{}{})
	}
}

// Contains reports whether key was recorded as missing and has not expired.
func (c *NegativeCache) Contains(key string) bool {
	if c.lru == nil {
		return false
	}
	_, ok := c.lru.Get(key)
	return ok
}

// Forget drops key, e.g. after the object has been seen again.
func (c *NegativeCache) Forget(key string) {
	if c.lru != nil {
		c.lru.Remove(key)
	}
}
