// Package origin reads source objects from an S3-compatible store.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// ErrChanged is returned by Load when the object no longer matches the validator from Stat.
var ErrChanged = errors.New("origin object changed")

// Options configures origin reads.
type Options struct {
	FetchTimeout  time.Duration
	MaxObjectSize int64
	Strategy      retry.Strategy
}

// Storage provides read access to an S3-compatible storage backend using MinIO.
// Each request names its own bucket.
type Storage struct {
	client *minio.Client
	opts   Options
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
func NewStorage(endpoint, accessKey, secretKey, region string, useSSL bool, opts Options) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	return &Storage{client: client, opts: opts}, nil
}

// Stat returns the metadata and validator of bucket/key.
func (s *Storage) Stat(ctx context.Context, bucket, key string) (model.Origin, error) {
	var o model.Origin

	err := s.withRetry(ctx, func(ctx context.Context) error {
		info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return classify(err, bucket, key)
		}

		o = model.Origin{
			Bucket:       bucket,
			Key:          key,
			ETag:         strings.Trim(info.ETag, `"`),
			LastModified: info.LastModified.UTC(),
			ContentType:  info.ContentType,
			Size:         info.Size,
		}
		return nil
	})
	if err != nil {
		return model.Origin{}, err
	}

	if s.opts.MaxObjectSize > 0 && o.Size > s.opts.MaxObjectSize {
		return model.Origin{}, model.Errorf(model.ErrLimitExceeded, "object %s/%s is %d bytes, limit is %d", bucket, key, o.Size, s.opts.MaxObjectSize)
	}

	return o, nil
}

// Load reads the object described by o. The read is conditional on o.ETag,
// so a concurrent overwrite surfaces as ErrChanged rather than mixed content.
func (s *Storage) Load(ctx context.Context, o model.Origin) ([]byte, error) {
	var data []byte

	err := s.withRetry(ctx, func(ctx context.Context) error {
		opts := minio.GetObjectOptions{}
		if o.ETag != "" {
			if err := opts.SetMatchETag(o.ETag); err != nil {
				return model.NewError(model.ErrInternal, "invalid origin etag", err)
			}
		}

		obj, err := s.client.GetObject(ctx, o.Bucket, o.Key, opts)
		if err != nil {
			return classify(err, o.Bucket, o.Key)
		}
		defer obj.Close()

		r := io.Reader(obj)
		if s.opts.MaxObjectSize > 0 {
			r = io.LimitReader(obj, s.opts.MaxObjectSize+1)
		}

		data, err = io.ReadAll(r)
		if err != nil {
			return classify(err, o.Bucket, o.Key)
		}
		if s.opts.MaxObjectSize > 0 && int64(len(data)) > s.opts.MaxObjectSize {
			return model.Errorf(model.ErrLimitExceeded, "object %s/%s exceeds %d bytes", o.Bucket, o.Key, s.opts.MaxObjectSize)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// withRetry runs fn under the fetch timeout and retries only transient upstream failures.
// ErrChanged is final: repeating a conditional read with the same validator cannot succeed.
func (s *Storage) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var permanent error

	err := retry.Do(func() error {
		attemptCtx := ctx
		if s.opts.FetchTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil || model.IsKind(err, model.ErrUpstreamUnavailable) && !errors.Is(err, ErrChanged) && ctx.Err() == nil {
			return err
		}

		permanent = err
		return nil
	}, s.opts.Strategy)

	if permanent != nil {
		return permanent
	}
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("origin request failed after retries")
		return err
	}

	return nil
}

// classify maps a MinIO error to a gateway error kind.
func classify(err error, bucket, key string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(model.ErrUpstreamTimeout, "origin request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewError(model.ErrUpstreamTimeout, "origin request timed out", err)
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return model.NewError(model.ErrNotFound, fmt.Sprintf("object %s/%s not found", bucket, key), err)
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed:
		return model.NewError(model.ErrUpstreamUnavailable, "origin changed during read", fmt.Errorf("%w: %v", ErrChanged, err))
	case resp.Code == "InvalidBucketName" || resp.Code == "XMinioInvalidObjectName":
		return model.NewError(model.ErrValidation, "invalid bucket or key", err)
	}

	return model.NewError(model.ErrUpstreamUnavailable, "origin unavailable", err)
}
