package origin

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aliskhannn/image-gateway/internal/model"
)

type object struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

// Memory is an in-process origin store for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object

	loads atomic.Int64
}

// NewMemory creates an empty in-memory origin.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

// Put stores or replaces bucket/key.
func (m *Memory) Put(bucket, key, contentType string, data []byte, modified time.Time) {
	sum := md5.Sum(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = object{
		data:        data,
		contentType: contentType,
		etag:        hex.EncodeToString(sum[:]),
		modified:    modified.UTC().Truncate(time.Second),
	}
}

// Stat returns metadata for bucket/key.
func (m *Memory) Stat(_ context.Context, bucket, key string) (model.Origin, error) {
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+key]
	m.mu.RUnlock()

	if !ok {
		return model.Origin{}, model.Errorf(model.ErrNotFound, "object %s/%s not found", bucket, key)
	}

	return model.Origin{
		Bucket:       bucket,
		Key:          key,
		ETag:         obj.etag,
		LastModified: obj.modified,
		ContentType:  obj.contentType,
		Size:         int64(len(obj.data)),
	}, nil
}

// Load returns the payload of o if it still matches o.ETag.
func (m *Memory) Load(_ context.Context, o model.Origin) ([]byte, error) {
	m.loads.Add(1)

	m.mu.RLock()
	obj, ok := m.objects[o.Bucket+"/"+o.Key]
	m.mu.RUnlock()

	if !ok {
		return nil, model.Errorf(model.ErrNotFound, "object %s/%s not found", o.Bucket, o.Key)
	}
	if o.ETag != "" && o.ETag != obj.etag {
		return nil, model.NewError(model.ErrUpstreamUnavailable, "origin changed during read", ErrChanged)
	}

	return obj.data, nil
}

// Loads returns how many times Load was called.
func (m *Memory) Loads() int64 {
	return m.loads.Load()
}
