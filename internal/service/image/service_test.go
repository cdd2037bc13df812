package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-gateway/internal/cache"
	"github.com/aliskhannn/image-gateway/internal/config"
	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/netguard"
	"github.com/aliskhannn/image-gateway/internal/parser"
	"github.com/aliskhannn/image-gateway/internal/processor"
	"github.com/aliskhannn/image-gateway/internal/response"
	"github.com/aliskhannn/image-gateway/internal/storage/origin"
)

type fakeProducer struct {
	mu   sync.Mutex
	sent []model.WarmRequest
	err  error
}

func (p *fakeProducer) Produce(_ context.Context, req model.WarmRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, req)
	return p.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.SetNRGBA(i%w, i/w, color.NRGBA{R: uint8(i), G: 100, B: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	svc      *Service
	origin   *origin.Memory
	cache    *cache.Manager
	producer *fakeProducer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := origin.NewMemory()
	store.Put("media", "photo.png", "image/png", pngBytes(t, 80, 100), time.Now())

	p := parser.New(parser.Limits{MaxDimension: 4096, MaxOperations: 8, MaxSigma: 100}, netguard.Policy{}, nil)
	require.NoError(t, p.LoadPresets(map[string]string{"thumb": "operation=resize&width=20"}))

	mgr := cache.New(cache.NewMemoryStore(64, time.Minute), cache.Options{Shards: 4, BuildTimeout: 10 * time.Second})
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	proc := processor.New(processor.Options{PipelineTimeout: 10 * time.Second}, nil)
	asm := response.New(nil, config.Compression{Types: []string{"image/png"}, MinSize: 1, Level: 5})
	prod := &fakeProducer{}

	return &fixture{
		svc:      NewService(p, store, proc, mgr, cache.NewNegativeCache(64, time.Minute), asm, prod),
		origin:   store,
		cache:    mgr,
		producer: prod,
	}
}

func (f *fixture) resolve(t *testing.T, path, query string) (Result, error) {
	t.Helper()
	req, err := f.svc.Parse(path, query, http.Header{})
	if err != nil {
		return Result{}, err
	}
	return f.svc.Resolve(context.Background(), req)
}

func TestResolve_MissThenHit(t *testing.T) {
	f := newFixture(t)

	first, err := f.resolve(t, "/media/photo.png", "operation=resize&width=40")
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.Equal(t, 40, first.Entry.Width)
	assert.Equal(t, 50, first.Entry.Height)

	second, err := f.resolve(t, "/media/photo.png", "operation=resize&width=40")
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Entry.Payload, second.Entry.Payload)
	assert.Equal(t, int64(1), f.origin.Loads())
}

func TestResolve_ConcurrentRequestsLoadOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	fps := make([]string, 16)
	for i := range fps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.resolve(t, "/media/photo.png", "operation=blur&sigma=2")
			assert.NoError(t, err)
			fps[i] = res.Fingerprint
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.cache.Stats().Builds)
	assert.Equal(t, int64(1), f.origin.Loads())
	for _, fp := range fps {
		assert.Equal(t, fps[0], fp)
	}
}

func TestResolve_OriginChangeInvalidates(t *testing.T) {
	f := newFixture(t)

	first, err := f.resolve(t, "/media/photo.png", "width=30")
	require.NoError(t, err)

	f.origin.Put("media", "photo.png", "image/png", pngBytes(t, 60, 60), time.Now().Add(time.Minute))

	second, err := f.resolve(t, "/media/photo.png", "width=30")
	require.NoError(t, err)
	assert.False(t, second.Hit)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 30, second.Entry.Height)
}

// overwritingOrigin replaces the object right before the first Load, as a
// concurrent upload between Stat and Load would.
type overwritingOrigin struct {
	*origin.Memory
	once sync.Once
	next []byte
}

func (o *overwritingOrigin) Load(ctx context.Context, m model.Origin) ([]byte, error) {
	o.once.Do(func() {
		o.Put(m.Bucket, m.Key, "image/png", o.next, time.Now().Add(time.Minute))
	})
	return o.Memory.Load(ctx, m)
}

func TestResolve_OriginChangedDuringLoad(t *testing.T) {
	f := newFixture(t)
	src := &overwritingOrigin{Memory: f.origin, next: pngBytes(t, 60, 60)}
	f.svc.origin = src

	res, err := f.resolve(t, "/media/photo.png", "width=30")
	require.NoError(t, err)
	assert.Equal(t, 30, res.Entry.Width)
	assert.Equal(t, 30, res.Entry.Height)
	assert.Equal(t, int64(2), f.origin.Loads())
	assert.Equal(t, int64(2), f.cache.Stats().Builds)
}

func TestResolve_Identity(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolve(t, "/media/photo.png", "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.Entry.ContentType)
	assert.Equal(t, 80, res.Entry.Width)
}

func TestResolve_Preset(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolve(t, "/media/photo.png/thumb", "")
	require.NoError(t, err)
	assert.Equal(t, 20, res.Entry.Width)

	_, err = f.resolve(t, "/media/missing.png/nope", "")
	assert.Equal(t, model.ErrValidation, model.KindOf(err), "invalid preset wins over a missing origin")
}

func TestResolve_NotFoundIsRemembered(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolve(t, "/media/missing.png", "width=10")
	assert.Equal(t, model.ErrNotFound, model.KindOf(err))

	f.origin.Put("media", "missing.png", "image/png", pngBytes(t, 10, 10), time.Now())

	_, err = f.resolve(t, "/media/missing.png", "width=10")
	assert.Equal(t, model.ErrNotFound, model.KindOf(err))
}

func TestResolve_FailureIsNotCached(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolve(t, "/media/photo.png", "operation=crop&width=500&height=500")
	assert.Equal(t, model.ErrOperation, model.KindOf(err))

	_, err = f.resolve(t, "/media/photo.png", "operation=crop&width=500&height=500")
	assert.Equal(t, model.ErrOperation, model.KindOf(err))
	assert.Equal(t, int64(2), f.cache.Stats().Builds)
}

func TestVariant(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolve(t, "/media/photo.png", "")
	require.NoError(t, err)

	a, err := f.svc.Variant(context.Background(), res, response.EncodingGzip)
	require.NoError(t, err)
	b, err := f.svc.Variant(context.Background(), res, response.EncodingGzip)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, "gzip", a.ContentEncoding)
	assert.NotEqual(t, res.Entry.ETag, a.ETag)
}

func TestWarm(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Warm(context.Background(), model.WarmRequest{Bucket: "media", Key: "photo.png", Query: "width=40", Accept: "image/webp"})
	require.NoError(t, err)
	assert.Equal(t, "image/webp", res.Entry.ContentType)

	req, err := f.svc.Parse("/media/photo.png", "width=40", http.Header{"Accept": {"image/webp"}})
	require.NoError(t, err)
	hit, err := f.svc.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, hit.Hit)
}

func TestWarm_ForgetsRememberedMiss(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolve(t, "/media/new.png", "width=10")
	assert.Equal(t, model.ErrNotFound, model.KindOf(err))

	f.origin.Put("media", "new.png", "image/png", pngBytes(t, 20, 20), time.Now())

	res, err := f.svc.Warm(context.Background(), model.WarmRequest{Bucket: "media", Key: "new.png", Query: "width=10"})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Entry.Width)

	hit, err := f.resolve(t, "/media/new.png", "width=10")
	require.NoError(t, err)
	assert.True(t, hit.Hit)
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.Enqueue(context.Background(), model.WarmRequest{Bucket: "media", Key: "photo.png", Query: "width=40"})
	require.NoError(t, err)
	require.Len(t, f.producer.sent, 1)
	assert.Equal(t, id, f.producer.sent[0].ID)

	_, err = f.svc.Enqueue(context.Background(), model.WarmRequest{Bucket: "media", Key: "photo.png", Query: "width=0"})
	assert.Equal(t, model.ErrValidation, model.KindOf(err))
	assert.Len(t, f.producer.sent, 1)

	f.producer.err = errors.New("broker down")
	_, err = f.svc.Enqueue(context.Background(), model.WarmRequest{Bucket: "media", Key: "photo.png"})
	assert.Error(t, err)

	disabled := NewService(nil, nil, nil, nil, nil, nil, nil)
	_, err = disabled.Enqueue(context.Background(), model.WarmRequest{})
	assert.ErrorIs(t, err, ErrWarmingDisabled)
}
