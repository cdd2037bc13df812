package image

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/cache"
	"github.com/aliskhannn/image-gateway/internal/fingerprint"
	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/parser"
	originstore "github.com/aliskhannn/image-gateway/internal/storage/origin"
)

// ErrWarmingDisabled is returned by Enqueue when no warm queue is configured.
var ErrWarmingDisabled = errors.New("cache warming is disabled")

// requestParser turns a request line into a validated plan.
type requestParser interface {
	Parse(path, rawQuery string, header http.Header) (parser.Request, error)
}

// originStore defines the interface for reading source objects (e.g., S3, MinIO).
type originStore interface {
	Stat(ctx context.Context, bucket, key string) (model.Origin, error)
	Load(ctx context.Context, o model.Origin) ([]byte, error)
}

// imageProcessor executes a plan against an origin payload.
type imageProcessor interface {
	Process(ctx context.Context, origin model.Origin, payload []byte, plan model.Plan) (*model.Entry, error)
}

// cacheManager collapses concurrent builds of the same fingerprint.
type cacheManager interface {
	Acquire(ctx context.Context, fp string, build cache.BuildFunc) (*model.Entry, bool, error)
}

// encoder produces content-coded variants of an entry.
type encoder interface {
	Encode(e *model.Entry, encoding string) (*model.Entry, error)
}

// producer defines the interface for enqueueing warm requests into a message broker (e.g., Kafka).
type producer interface {
	Produce(ctx context.Context, req model.WarmRequest) error
}

// Result is a resolved representation ready to be written.
type Result struct {
	Fingerprint string
	Entry       *model.Entry
	Hit         bool
}

// Service provides the business logic of the gateway:
// origin lookup, fingerprinting and cached pipeline execution.
type Service struct {
	parser    requestParser
	origin    originStore
	processor imageProcessor
	cache     cacheManager
	notFound  *cache.NegativeCache
	encoder   encoder
	producer  producer
}

// NewService creates a new Service. producer may be nil when warming is disabled.
func NewService(
	rp requestParser,
	store originStore,
	ip imageProcessor,
	cm cacheManager,
	nf *cache.NegativeCache,
	enc encoder,
	p producer,
) *Service {
	return &Service{
		parser:    rp,
		origin:    store,
		processor: ip,
		cache:     cm,
		notFound:  nf,
		encoder:   enc,
		producer:  p,
	}
}

// Parse validates the request before any origin or cache work.
func (s *Service) Parse(path, rawQuery string, header http.Header) (parser.Request, error) {
	return s.parser.Parse(path, rawQuery, header)
}

// Resolve returns the entry for a parsed request, building it at most once
// across concurrent callers. An origin overwritten between Stat and Load is
// resolved once more under its new validator.
func (s *Service) Resolve(ctx context.Context, req parser.Request) (Result, error) {
	res, err := s.resolve(ctx, req)
	if errors.Is(err, originstore.ErrChanged) && ctx.Err() == nil {
		zlog.Logger.Info().Str("bucket", req.Bucket).Str("key", req.Key).Msg("origin changed during load, resolving again")
		res, err = s.resolve(ctx, req)
	}
	return res, err
}

func (s *Service) resolve(ctx context.Context, req parser.Request) (Result, error) {
	objectKey := req.Bucket + "/" + req.Key
	if s.notFound != nil && s.notFound.Contains(objectKey) {
		return Result{}, model.Errorf(model.ErrNotFound, "object %s not found", objectKey)
	}

	origin, err := s.origin.Stat(ctx, req.Bucket, req.Key)
	if err != nil {
		s.rememberMissing(objectKey, err)
		return Result{}, fmt.Errorf("stat origin: %w", err)
	}

	plan, err := parser.ResolveFormat(req.Plan, origin.ContentType)
	if err != nil {
		return Result{}, err
	}

	fp := fingerprint.Of(origin, plan)

	entry, hit, err := s.cache.Acquire(ctx, fp, func(ctx context.Context) (*model.Entry, error) {
		payload, err := s.origin.Load(ctx, origin)
		if err != nil {
			s.rememberMissing(objectKey, err)
			return nil, fmt.Errorf("load origin: %w", err)
		}

		return s.processor.Process(ctx, origin, payload, plan)
	})
	if err != nil {
		return Result{}, classifyAcquire(err)
	}

	return Result{Fingerprint: fp, Entry: entry, Hit: hit}, nil
}

// Variant returns the content-coded variant of a resolved entry through the same cache.
func (s *Service) Variant(ctx context.Context, res Result, encoding string) (*model.Entry, error) {
	fp := fingerprint.Encoded(res.Fingerprint, encoding)

	entry, _, err := s.cache.Acquire(ctx, fp, func(context.Context) (*model.Entry, error) {
		return s.encoder.Encode(res.Entry, encoding)
	})
	if err != nil {
		return nil, classifyAcquire(err)
	}

	return entry, nil
}

// Warm builds the representation described by req ahead of client traffic.
func (s *Service) Warm(ctx context.Context, req model.WarmRequest) (Result, error) {
	header := make(http.Header)
	if req.Accept != "" {
		header.Set("Accept", req.Accept)
	}

	path := "/" + strings.Trim(req.Bucket, "/") + "/" + strings.TrimPrefix(req.Key, "/")
	parsed, err := s.parser.Parse(path, req.Query, header)
	if err != nil {
		return Result{}, err
	}

	// a warm request usually follows an upload, so a remembered miss is stale
	if s.notFound != nil {
		s.notFound.Forget(parsed.Bucket + "/" + parsed.Key)
	}

	res, err := s.Resolve(ctx, parsed)
	if err != nil {
		return Result{}, err
	}

	zlog.Logger.Info().
		Str("id", req.ID.String()).
		Str("fingerprint", res.Fingerprint).
		Bool("hit", res.Hit).
		Msg("cache warmed")

	return res, nil
}

// Enqueue validates a warm request and publishes it for asynchronous processing.
func (s *Service) Enqueue(ctx context.Context, req model.WarmRequest) (uuid.UUID, error) {
	if s.producer == nil {
		return uuid.Nil, ErrWarmingDisabled
	}

	path := "/" + strings.Trim(req.Bucket, "/") + "/" + strings.TrimPrefix(req.Key, "/")
	if _, err := s.parser.Parse(path, req.Query, nil); err != nil {
		return uuid.Nil, err
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	if err := s.producer.Produce(ctx, req); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue warm request: %w", err)
	}

	return req.ID, nil
}

func (s *Service) rememberMissing(objectKey string, err error) {
	if s.notFound != nil && model.IsKind(err, model.ErrNotFound) {
		s.notFound.Add(objectKey)
	}
}

func classifyAcquire(err error) error {
	if errors.Is(err, cache.ErrClosed) {
		return model.NewError(model.ErrOverloaded, "gateway is shutting down", err)
	}
	return err
}
