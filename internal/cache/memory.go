package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// MemoryStore is an in-process LRU bounded by entry count and TTL.
//
// Eviction only drops the store's reference; readers holding an entry keep a
// valid, unchanged payload.
type MemoryStore struct {
	lru *expirable.LRU[string, *model.Entry]
}

// NewMemoryStore creates a store holding at most capacity entries for at most ttl.
// A zero ttl disables time-based expiry.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	onEvict := func(key string, e *model.Entry) {
		Evictions.WithLabelValues("memory").Inc()
		CacheSize.WithLabelValues("memory").Sub(float64(e.Size))
		zlog.Logger.Debug().Str("fingerprint", key).Int64("size", e.Size).Msg("cache entry evicted")
	}

	return &MemoryStore{lru: expirable.NewLRU[string, *model.Entry](capacity, onEvict, ttl)}
}

// Get returns the entry stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (*model.Entry, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return e, nil
}

// Set stores an entry, evicting the least recently used one when full.
func (s *MemoryStore) Set(_ context.Context, key string, e *model.Entry) error {
	if prev, ok := s.lru.Peek(key); ok {
		CacheSize.WithLabelValues("memory").Sub(float64(prev.Size))
	}
	s.lru.Add(key, e)
	CacheSize.WithLabelValues("memory").Add(float64(e.Size))
	return nil
}

// Delete removes key from the store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Len returns the number of resident entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
