package processor

import (
	"bytes"
	"fmt"
	"image"

	"github.com/cespare/xxhash/v2"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/aliskhannn/image-gateway/internal/model"
)

var imagingFormats = map[model.Format]imaging.Format{
	model.FormatJPEG: imaging.JPEG,
	model.FormatPNG:  imaging.PNG,
	model.FormatGIF:  imaging.GIF,
	model.FormatBMP:  imaging.BMP,
	model.FormatTIFF: imaging.TIFF,
}

// encode writes img in the requested format. Quality 0 uses the configured default.
func (p *Processor) encode(img image.Image, format model.Format, quality int) ([]byte, error) {
	if quality == 0 {
		quality = p.opts.DefaultQuality
	}

	buf := bytes.NewBuffer(nil)

	if format == model.FormatWebP {
		opts := &webp.Options{Lossless: quality == 100, Quality: float32(quality)}
		if err := webp.Encode(buf, img, opts); err != nil {
			return nil, model.NewError(model.ErrInternal, "failed to encode webp", err)
		}
		return buf.Bytes(), nil
	}

	f, ok := imagingFormats[format]
	if !ok {
		return nil, model.Errorf(model.ErrUnsupported, "cannot encode format %q", format)
	}

	if err := imaging.Encode(buf, img, f, imaging.JPEGQuality(quality)); err != nil {
		return nil, model.NewError(model.ErrInternal, fmt.Sprintf("failed to encode %s", format), err)
	}

	return buf.Bytes(), nil
}

// ETag returns a strong validator for payload.
func ETag(payload []byte) string {
	return fmt.Sprintf(`"%016x-%x"`, xxhash.Sum64(payload), len(payload))
}
