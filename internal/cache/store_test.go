package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Eviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, time.Minute)

	require.NoError(t, s.Set(ctx, "a", entryOf("a")))
	require.NoError(t, s.Set(ctx, "b", entryOf("b")))

	held, err := s.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "c", entryOf("c")))
	assert.Equal(t, 2, s.Len())

	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// a reader holding an entry keeps it intact across eviction
	require.NoError(t, s.Set(ctx, "d", entryOf("d")))
	require.NoError(t, s.Set(ctx, "e", entryOf("e")))
	assert.Equal(t, "a", string(held.Payload))
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(8, 20*time.Millisecond)

	require.NoError(t, s.Set(ctx, "k", entryOf("v")))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, "k")
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(8, 0)

	require.NoError(t, s.Set(ctx, "k", entryOf("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestTieredStore_PromotesRemoteHits(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStore(8, time.Minute)
	remote := NewMemoryStore(8, time.Minute)
	s := NewTieredStore(local, remote)

	require.NoError(t, remote.Set(ctx, "k", entryOf("v")))

	e, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(e.Payload))

	promoted, err := local.Get(ctx, "k")
	require.NoError(t, err)
	assert.Same(t, e, promoted)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestTieredStore_ReportsUnreadableRemoteEntries(t *testing.T) {
	ctx := context.Background()
	remote := &corruptStore{MemoryStore: NewMemoryStore(8, time.Minute)}
	remote.corrupt.Store(true)
	s := NewTieredStore(NewMemoryStore(8, time.Minute), remote)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrInvalidEntry)

	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, int32(1), remote.deleted.Load())

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNegativeCache(t *testing.T) {
	c := NewNegativeCache(8, time.Minute)
	assert.False(t, c.Contains("b/k"))

	c.Add("b/k")
	assert.True(t, c.Contains("b/k"))

	c.Forget("b/k")
	assert.False(t, c.Contains("b/k"))

	disabled := NewNegativeCache(8, 0)
	disabled.Add("b/k")
	assert.False(t, disabled.Contains("b/k"))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	s := NewRedisStore(client, time.Minute)
	key := "test-" + time.Now().Format(time.RFC3339Nano)
	defer s.Delete(ctx, key)

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, ErrCacheMiss)

	want := entryOf("payload")
	want.Width, want.Height = 3, 4
	require.NoError(t, s.Set(ctx, key, want))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want.Payload, got.Payload)
	assert.Equal(t, want.ETag, got.ETag)
	assert.Equal(t, 3, got.Width)
}
