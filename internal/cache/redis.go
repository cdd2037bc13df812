package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aliskhannn/image-gateway/internal/model"
)

const redisKeyPrefix = "imgw:entry:"

// RedisStore keeps JSON encoded entries in Redis with a fixed TTL.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: client, ttl: ttl}
}

// Get retrieves an entry by key.
func (s *RedisStore) Get(ctx context.Context, key string) (*model.Entry, error) {
	data, err := s.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e model.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return &e, nil
}

// Set stores an entry with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, e *model.Entry) error {
	if e == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(e)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, redisKeyPrefix+key, data, s.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
