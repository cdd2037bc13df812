// Package cache provides the collapsing cache manager and its backing stores.
package cache

import (
	"context"
	"errors"

	"github.com/aliskhannn/image-gateway/internal/model"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a bounded persistence backend for built entries.
// Implementations must be safe for concurrent use and must treat entries as immutable.
type Store interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (*model.Entry, error)
	Set(ctx context.Context, key string, entry *model.Entry) error
	Delete(ctx context.Context, key string) error
}
