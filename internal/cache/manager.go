package cache

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// ErrClosed is returned by Acquire once the manager has been closed.
var ErrClosed = errors.New("cache manager closed")

// BuildFunc produces the entry for a fingerprint that is not yet cached.
type BuildFunc func(ctx context.Context) (*model.Entry, error)

// Options configures a Manager.
type Options struct {
	Shards        int           // number of in-flight stripes, power of two
	BuildTimeout  time.Duration // outer bound on a single build, zero means unbounded
	MaxEntryBytes int64         // larger entries are returned but not stored, zero means unbounded
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Builds    int64
	Failures  int64
	Collapsed int64
}

// call is a build in flight. entry and err are written once before done is closed.
type call struct {
	done    chan struct{}
	waiters int
	entry   *model.Entry
	err     error
}

type shard struct {
	mu    sync.Mutex
	calls map[string]*call
}

// Manager guarantees at most one concurrent build per fingerprint.
// Callers asking for a fingerprint that is being built wait for that build
// and share its result.
type Manager struct {
	store  Store
	opts   Options
	shards []shard
	mask   uint64

	mu     sync.RWMutex // guards closed against wg.Add racing wg.Wait
	closed bool
	wg     sync.WaitGroup

	hits, misses, builds, failures, collapsed atomic.Int64
}

// New creates a Manager backed by store.
func New(store Store, opts Options) *Manager {
	if opts.Shards <= 0 || opts.Shards&(opts.Shards-1) != 0 {
		opts.Shards = 64
	}

	m := &Manager{
		store:  store,
		opts:   opts,
		shards: make([]shard, opts.Shards),
		mask:   uint64(opts.Shards - 1),
	}
	for i := range m.shards {
		m.shards[i].calls = make(map[string]*call)
	}

	return m
}

// Acquire returns the entry for fp, building it with build when absent.
//
// hit reports whether the entry came straight from the store. When another
// caller is already building fp, Acquire waits for that build instead of
// starting a second one. Cancelling ctx stops the wait, never the build.
func (m *Manager) Acquire(ctx context.Context, fp string, build BuildFunc) (*model.Entry, bool, error) {
	if m.isClosed() {
		return nil, false, ErrClosed
	}

	if e, err := m.store.Get(ctx, fp); err == nil {
		m.hits.Add(1)
		return e, true, nil
	} else if errors.Is(err, ErrInvalidEntry) {
		zlog.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("dropping unreadable cache entry")
		if err := m.store.Delete(ctx, fp); err != nil {
			zlog.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("failed to delete cache entry")
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		zlog.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("cache store read failed")
	}

	m.misses.Add(1)
	CacheMisses.Inc()

	s := m.shardFor(fp)
	s.mu.Lock()
	c, ok := s.calls[fp]
	if ok {
		c.waiters++
		s.mu.Unlock()
		m.collapsed.Add(1)
		Collapsed.Inc()
		return m.wait(ctx, c)
	}

	// register the build under the stripe lock so no second builder can appear
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		s.mu.Unlock()
		return nil, false, ErrClosed
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	c = &call{done: make(chan struct{})}
	s.calls[fp] = c
	s.mu.Unlock()

	go m.run(context.WithoutCancel(ctx), s, fp, c, build)

	return m.wait(ctx, c)
}

func (m *Manager) wait(ctx context.Context, c *call) (*model.Entry, bool, error) {
	select {
	case <-c.done:
		return c.entry, false, c.err
	case <-ctx.Done():
		return nil, false, fmt.Errorf("wait for build: %w", ctx.Err())
	}
}

func (m *Manager) run(ctx context.Context, s *shard, fp string, c *call, build BuildFunc) {
	defer m.wg.Done()

	InFlight.Inc()
	defer InFlight.Dec()

	if m.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.BuildTimeout)
		defer cancel()
	}

	// a build may have completed between the caller's store lookup and registration
	entry, err := m.store.Get(ctx, fp)
	if err != nil {
		m.builds.Add(1)
		start := time.Now()
		entry, err = m.buildWithin(ctx, fp, build)
		if err == nil && entry == nil {
			err = model.Errorf(model.ErrInternal, "build returned no entry")
		}

		if err != nil {
			m.failures.Add(1)
			Builds.WithLabelValues("error").Inc()
			zlog.Logger.Warn().Err(err).Str("fingerprint", fp).Dur("took", time.Since(start)).Msg("build failed")
		} else {
			Builds.WithLabelValues("ok").Inc()
			zlog.Logger.Debug().Str("fingerprint", fp).Int64("size", entry.Size).Dur("took", time.Since(start)).Msg("build finished")
			m.publish(ctx, fp, entry)
		}
	}

	s.mu.Lock()
	c.entry, c.err = entry, err
	delete(s.calls, fp)
	s.mu.Unlock()

	close(c.done)
}

type buildResult struct {
	entry *model.Entry
	err   error
}

// buildWithin runs build but stops waiting for it once ctx ends, so waiters are
// released at the build deadline even when build ignores ctx. An abandoned build
// keeps its drain slot and its late result is still stored.
func (m *Manager) buildWithin(ctx context.Context, fp string, build BuildFunc) (*model.Entry, error) {
	res := make(chan buildResult, 1)
	go func() {
		e, err := m.safeBuild(ctx, fp, build)
		res <- buildResult{entry: e, err: err}
	}()

	select {
	case r := <-res:
		return r.entry, r.err
	case <-ctx.Done():
	}

	// the caller still holds a wg slot, so Add cannot race a finished Wait
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r := <-res
		if r.err == nil && r.entry != nil {
			m.publish(context.WithoutCancel(ctx), fp, r.entry)
		}
		zlog.Logger.Debug().Str("fingerprint", fp).Err(r.err).Msg("abandoned build finished")
	}()

	return nil, model.NewError(model.ErrUpstreamTimeout, "build deadline exceeded", ctx.Err())
}

func (m *Manager) safeBuild(ctx context.Context, fp string, build BuildFunc) (entry *model.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().
				Str("fingerprint", fp).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("build panicked")
			entry, err = nil, model.Errorf(model.ErrInternal, "build panicked: %v", r)
		}
	}()

	return build(ctx)
}

func (m *Manager) publish(ctx context.Context, fp string, e *model.Entry) {
	if m.opts.MaxEntryBytes > 0 && e.Size > m.opts.MaxEntryBytes {
		zlog.Logger.Debug().Str("fingerprint", fp).Int64("size", e.Size).Msg("entry too large to cache")
		return
	}

	if err := m.store.Set(ctx, fp, e); err != nil {
		zlog.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("failed to store cache entry")
	}
}

func (m *Manager) shardFor(fp string) *shard {
	return &m.shards[xxhash.Sum64String(fp)&m.mask]
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Close stops new builds and waits for in-flight builds to finish or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain in-flight builds: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Builds:    m.builds.Load(),
		Failures:  m.failures.Load(),
		Collapsed: m.collapsed.Load(),
	}
}

// InFlight returns the number of fingerprints currently being built.
func (m *Manager) InFlight() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.calls)
		s.mu.Unlock()
	}
	return n
}
