// Package processor executes normalized transform plans against origin payloads.
package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/semaphore"

	// webp origins
	_ "golang.org/x/image/webp"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// Crop and watermark failure policies.
const (
	CropReject = "reject"
	CropClamp  = "clamp"

	WatermarkFail = "fail"
	WatermarkSkip = "skip"
)

// watermarkSource loads overlay images for watermark stages.
type watermarkSource interface {
	Fetch(ctx context.Context, rawURL string) (image.Image, error)
}

// Options holds executor limits and policies.
type Options struct {
	MaxPixels        int
	DefaultQuality   int
	PipelineTimeout  time.Duration
	CropPolicy       string
	WatermarkFailure string
	WatermarkFont    string
	MaxConcurrent    int64
	ThrottleWait     time.Duration
}

// Processor is responsible for executing image transform plans
// such as resize, crop, rotate and watermarking.
type Processor struct {
	opts      Options
	watermark watermarkSource
	throttle  *semaphore.Weighted
}

// New creates a new Processor using src to load watermark images.
func New(opts Options, src watermarkSource) *Processor {
	if opts.DefaultQuality <= 0 {
		opts.DefaultQuality = 85
	}
	if opts.CropPolicy == "" {
		opts.CropPolicy = CropReject
	}
	if opts.WatermarkFailure == "" {
		opts.WatermarkFailure = WatermarkFail
	}

	p := &Processor{opts: opts, watermark: src}
	if opts.MaxConcurrent > 0 {
		p.throttle = semaphore.NewWeighted(opts.MaxConcurrent)
	}

	return p
}

// canvas is the image being transformed plus the dimensions it was decoded with.
type canvas struct {
	img          image.Image
	origW, origH int
}

// Process applies plan to the origin payload and returns the encoded entry.
func (p *Processor) Process(ctx context.Context, origin model.Origin, payload []byte, plan model.Plan) (*model.Entry, error) {
	if p.passthrough(origin, plan) {
		return p.identity(origin, payload), nil
	}

	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if p.opts.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.PipelineTimeout)
		defer cancel()
	}

	start := time.Now()
	entry, err := p.runWithin(ctx, origin, payload, plan, release)
	ProcessingDuration.WithLabelValues(string(plan.Format)).Observe(time.Since(start).Seconds())
	if err != nil {
		ProcessingErrors.WithLabelValues(string(model.KindOf(err))).Inc()
		return nil, err
	}

	return entry, nil
}

type runResult struct {
	entry *model.Entry
	err   error
}

// runWithin executes the plan in its own goroutine and returns as soon as ctx ends,
// even in the middle of a stage. The throttle slot is released only when the
// pipeline goroutine itself returns, so abandoned work still counts against the limit.
func (p *Processor) runWithin(ctx context.Context, origin model.Origin, payload []byte, plan model.Plan, release func()) (*model.Entry, error) {
	done := make(chan runResult, 1)

	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				zlog.Logger.Error().Interface("panic", r).Str("key", origin.Key).Msg("pipeline panicked")
				done <- runResult{err: model.Errorf(model.ErrInternal, "pipeline panicked: %v", r)}
			}
		}()

		entry, err := p.run(ctx, origin, payload, plan)
		done <- runResult{entry: entry, err: err}
	}()

	select {
	case r := <-done:
		return r.entry, r.err
	case <-ctx.Done():
		zlog.Logger.Debug().Str("key", origin.Key).Msg("pipeline abandoned at deadline")
		return nil, deadline(ctx)
	}
}

func (p *Processor) run(ctx context.Context, origin model.Origin, payload []byte, plan model.Plan) (*model.Entry, error) {
	c, err := p.decode(payload)
	if err != nil {
		return nil, err
	}

	for i, op := range plan.Operations {
		if err := deadline(ctx); err != nil {
			return nil, err
		}

		if err := p.apply(ctx, c, op); err != nil {
			zlog.Logger.Debug().Err(err).Int("stage", i).Str("operation", string(op.Kind)).Msg("stage failed")
			return nil, err
		}

		if err := p.checkPixels(c.img.Bounds()); err != nil {
			return nil, err
		}
	}

	if err := deadline(ctx); err != nil {
		return nil, err
	}

	out, err := p.encode(c.img, plan.Format, plan.Quality)
	if err != nil {
		return nil, err
	}

	b := c.img.Bounds()
	return &model.Entry{
		Payload:      out,
		ContentType:  plan.Format.ContentType(),
		Width:        b.Dx(),
		Height:       b.Dy(),
		ETag:         ETag(out),
		LastModified: origin.LastModified,
		CreatedAt:    time.Now().UTC(),
		Size:         int64(len(out)),
	}, nil
}

// passthrough reports whether the origin bytes can be served unchanged.
func (p *Processor) passthrough(origin model.Origin, plan model.Plan) bool {
	if plan.IsIdentity() {
		return true
	}
	if len(plan.Operations) > 0 || plan.Quality != 0 {
		return false
	}
	native, ok := model.FormatFromContentType(origin.ContentType)
	return ok && native == plan.Format
}

func (p *Processor) identity(origin model.Origin, payload []byte) *model.Entry {
	ct := origin.ContentType
	if ct == "" {
		ct = http.DetectContentType(payload)
	}

	etag := origin.ETag
	if etag == "" {
		etag = ETag(payload)
	} else if !strings.HasPrefix(etag, `"`) && !strings.HasPrefix(etag, `W/"`) {
		etag = `"` + etag + `"`
	}

	e := &model.Entry{
		Payload:      payload,
		ContentType:  ct,
		ETag:         etag,
		LastModified: origin.LastModified,
		CreatedAt:    time.Now().UTC(),
		Size:         int64(len(payload)),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(payload)); err == nil {
		e.Width, e.Height = cfg.Width, cfg.Height
	}

	return e
}

// acquire takes a slot from the pipeline throttle.
func (p *Processor) acquire(ctx context.Context) (func(), error) {
	if p.throttle == nil {
		return func() {}, nil
	}

	waitCtx := ctx
	if p.opts.ThrottleWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.ThrottleWait)
		defer cancel()
	}

	if err := p.throttle.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, model.NewError(model.ErrUpstreamTimeout, "deadline exceeded waiting for a processing slot", ctx.Err())
		}
		Throttled.Inc()
		return nil, model.NewError(model.ErrOverloaded, "too many concurrent transformations", err)
	}

	return func() { p.throttle.Release(1) }, nil
}

func (p *Processor) decode(payload []byte) (*canvas, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, model.NewError(model.ErrUnsupported, "origin is not a decodable image", err)
	}
	if err := p.checkPixels(image.Rect(0, 0, cfg.Width, cfg.Height)); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(payload), imaging.AutoOrientation(true))
	if err != nil {
		return nil, model.NewError(model.ErrUnsupported, "failed to decode image", err)
	}

	b := img.Bounds()
	return &canvas{img: img, origW: b.Dx(), origH: b.Dy()}, nil
}

func (p *Processor) checkPixels(r image.Rectangle) error {
	if p.opts.MaxPixels > 0 && r.Dx()*r.Dy() > p.opts.MaxPixels {
		return model.Errorf(model.ErrLimitExceeded, "image of %dx%d exceeds the pixel limit", r.Dx(), r.Dy())
	}
	return nil
}

func (p *Processor) apply(ctx context.Context, c *canvas, op model.Operation) error {
	switch op.Kind {
	case model.KindResize:
		w, h := resizeDims(op.Width, op.Height, c.origW, c.origH)
		if err := p.checkPixels(image.Rect(0, 0, w, h)); err != nil {
			return err
		}
		c.img = imaging.Resize(c.img, w, h, imaging.Lanczos)

	case model.KindResizeCropAuto:
		if err := p.checkPixels(image.Rect(0, 0, op.Width, op.Height)); err != nil {
			return err
		}
		c.img = imaging.Fill(c.img, op.Width, op.Height, imaging.Center, imaging.Lanczos)

	case model.KindCrop:
		b := c.img.Bounds()
		w, h := op.Width, op.Height
		if w > b.Dx() || h > b.Dy() {
			if p.opts.CropPolicy != CropClamp {
				return model.Errorf(model.ErrOperation, "crop %dx%d exceeds image %dx%d", w, h, b.Dx(), b.Dy())
			}
			w, h = min(w, b.Dx()), min(h, b.Dy())
		}
		c.img = imaging.CropAnchor(c.img, w, h, anchorOf(op.Gravity))

	case model.KindExtract:
		b := c.img.Bounds()
		area := image.Rect(op.Left, op.Top, op.Left+op.AreaWidth, op.Top+op.AreaHeight).Add(b.Min)
		if !area.In(b) {
			if p.opts.CropPolicy != CropClamp {
				return model.Errorf(model.ErrOperation, "extract area %dx%d at (%d,%d) is outside image %dx%d",
					op.AreaWidth, op.AreaHeight, op.Left, op.Top, b.Dx(), b.Dy())
			}
			area = area.Intersect(b)
			if area.Empty() {
				return model.Errorf(model.ErrOperation, "extract area does not intersect image %dx%d", b.Dx(), b.Dy())
			}
		}
		c.img = imaging.Crop(c.img, area)

	case model.KindRotate:
		c.img = rotate(c.img, op.Angle)

	case model.KindBlur:
		c.img = imaging.Blur(c.img, op.Sigma)

	case model.KindGrayscale:
		c.img = imaging.Grayscale(c.img)

	case model.KindWatermark:
		return p.applyWatermark(ctx, c, op.Watermark)

	default:
		return model.Errorf(model.ErrInternal, "unknown operation %q", op.Kind)
	}

	return nil
}

// resizeDims completes a missing dimension from the original aspect ratio.
func resizeDims(w, h, origW, origH int) (int, int) {
	switch {
	case w == 0 && origW > 0 && origH > 0:
		w = max(1, int(math.Round(float64(origW)*float64(h)/float64(origH))))
	case h == 0 && origW > 0 && origH > 0:
		h = max(1, int(math.Round(float64(origH)*float64(w)/float64(origW))))
	}
	return w, h
}

var anchors = map[string]imaging.Anchor{
	"center":    imaging.Center,
	"north":     imaging.Top,
	"south":     imaging.Bottom,
	"east":      imaging.Right,
	"west":      imaging.Left,
	"northeast": imaging.TopRight,
	"northwest": imaging.TopLeft,
	"southeast": imaging.BottomRight,
	"southwest": imaging.BottomLeft,
}

func anchorOf(gravity string) imaging.Anchor {
	if a, ok := anchors[gravity]; ok {
		return a
	}
	return imaging.Center
}

// rotate turns img clockwise by angle degrees. imaging rotates counter-clockwise.
func rotate(img image.Image, angle float64) image.Image {
	switch angle {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	}
	return imaging.Rotate(img, 360-angle, color.Transparent)
}

func deadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.NewError(model.ErrUpstreamTimeout, "transformation deadline exceeded", err)
		}
		return model.NewError(model.ErrInternal, "transformation cancelled", err)
	}
	return nil
}
