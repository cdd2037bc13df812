package cache

import (
	"context"
	"errors"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// TieredStore reads through a fast local store and a shared remote one.
// Remote hits are promoted into the local store.
type TieredStore struct {
	local  Store
	remote Store
}

// NewTieredStore creates a two level store.
func NewTieredStore(local, remote Store) *TieredStore {
	return &TieredStore{local: local, remote: remote}
}

// Get checks the local store first, then the remote one.
func (s *TieredStore) Get(ctx context.Context, key string) (*model.Entry, error) {
	e, err := s.local.Get(ctx, key)
	if err == nil {
		CacheHits.WithLabelValues("memory").Inc()
		return e, nil
	}

	e, err = s.remote.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			return nil, err
		}
		if !errors.Is(err, ErrCacheMiss) {
			// a broken remote tier degrades to a miss
			zlog.Logger.Warn().Err(err).Str("fingerprint", key).Msg("remote cache read failed")
		}
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	if err := s.local.Set(ctx, key, e); err != nil {
		zlog.Logger.Warn().Err(err).Str("fingerprint", key).Msg("failed to promote cache entry")
	}

	return e, nil
}

// Set writes to both tiers. A remote failure is reported but the local write stands.
func (s *TieredStore) Set(ctx context.Context, key string, e *model.Entry) error {
	if err := s.local.Set(ctx, key, e); err != nil {
		return err
	}
	return s.remote.Set(ctx, key, e)
}

// Delete removes the key from both tiers.
func (s *TieredStore) Delete(ctx context.Context, key string) error {
	return errors.Join(s.local.Delete(ctx, key), s.remote.Delete(ctx, key))
}
