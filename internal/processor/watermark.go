package processor

import (
	"context"
	"errors"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/image/font/basicfont"

	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/netguard"
)

const textMargin = 10.0

// applyWatermark composites an image or draws text onto the canvas.
func (p *Processor) applyWatermark(ctx context.Context, c *canvas, wm *model.Watermark) error {
	if wm == nil {
		return model.Errorf(model.ErrInternal, "watermark stage without parameters")
	}

	if wm.Text != "" {
		img, err := p.drawText(c.img, wm)
		if err != nil {
			return err
		}
		c.img = img
		return nil
	}

	mark, err := p.fetchWatermark(ctx, wm.Image)
	if err != nil {
		if p.opts.WatermarkFailure == WatermarkSkip && !model.IsKind(err, model.ErrValidation) {
			WatermarkSkipped.Inc()
			zlog.Logger.Warn().Err(err).Str("url", wm.Image).Msg("watermark skipped")
			return nil
		}
		return err
	}

	b := c.img.Bounds()
	mb := mark.Bounds()
	if mb.Dx() > b.Dx() || mb.Dy() > b.Dy() {
		mark = imaging.Fit(mark, b.Dx(), b.Dy(), imaging.Lanczos)
		mb = mark.Bounds()
	}

	pos := placement(wm.Position, b.Dx(), b.Dy(), mb.Dx(), mb.Dy())
	c.img = imaging.Overlay(c.img, mark, pos, wm.Opacity)

	return nil
}

func (p *Processor) fetchWatermark(ctx context.Context, rawURL string) (image.Image, error) {
	if p.watermark == nil {
		return nil, model.Errorf(model.ErrUpstreamUnavailable, "no watermark source configured")
	}

	mark, err := p.watermark.Fetch(ctx, rawURL)
	if err == nil {
		return mark, nil
	}

	var gwErr *model.Error
	switch {
	case errors.As(err, &gwErr):
		return nil, err
	case errors.Is(err, netguard.ErrBlockedAddress):
		return nil, model.NewError(model.ErrValidation, "watermark url is not allowed", err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, model.NewError(model.ErrUpstreamTimeout, "watermark fetch timed out", err)
	default:
		return nil, model.NewError(model.ErrUpstreamUnavailable, "failed to fetch watermark", err)
	}
}

// placement returns the top-left point of a w×h mark on a W×H canvas.
func placement(position string, W, H, w, h int) image.Point {
	vertical, horizontal, _ := strings.Cut(position, "-")

	var pt image.Point
	switch horizontal {
	case "center":
		pt.X = (W - w) / 2
	case "right":
		pt.X = W - w
	}
	switch vertical {
	case "center":
		pt.Y = (H - h) / 2
	case "bottom":
		pt.Y = H - h
	}

	return pt
}

// drawText renders wm.Text at its position.
// A TTF font is used when configured, scaled to 5% of the image width.
func (p *Processor) drawText(img image.Image, wm *model.Watermark) (image.Image, error) {
	dc := gg.NewContextForImage(img)
	dc.SetRGBA(1, 1, 1, wm.Opacity)

	if p.opts.WatermarkFont != "" {
		fontSize := float64(dc.Width()) * 0.05
		if err := dc.LoadFontFace(p.opts.WatermarkFont, fontSize); err != nil {
			return nil, model.NewError(model.ErrInternal, "failed to load font", err)
		}
	} else {
		dc.SetFontFace(basicfont.Face7x13)
	}

	W, H := float64(dc.Width()), float64(dc.Height())
	vertical, horizontal, _ := strings.Cut(wm.Position, "-")

	x, ax := textMargin, 0.0
	switch horizontal {
	case "center":
		x, ax = W/2, 0.5
	case "right":
		x, ax = W-textMargin, 1
	}

	y, ay := textMargin, 1.0
	switch vertical {
	case "center":
		y, ay = H/2, 0.5
	case "bottom":
		y, ay = H-textMargin, 0
	}

	dc.DrawStringAnchored(wm.Text, x, y, ax, ay)

	return imaging.Clone(dc.Image()), nil
}
