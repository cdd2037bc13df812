package model

import (
	"strconv"
	"strings"
)

// Kind identifies the variant of an Operation.
type Kind string

const (
	KindResize         Kind = "resize"
	KindCrop           Kind = "crop"
	KindResizeCropAuto Kind = "resizecropauto" // cover width×height, crop the center
	KindExtract        Kind = "extract"
	KindRotate         Kind = "rotate"
	KindBlur           Kind = "blur"
	KindGrayscale      Kind = "grayscale"
	KindWatermark      Kind = "watermark"
	KindFormat         Kind = "format"
	KindQuality        Kind = "quality"
)

// Operation is a single validated pipeline stage.
//
// Only the fields relevant to Kind are set. Values are never mutated
// after the parser builds them.
type Operation struct {
	Kind Kind

	Width  int // resize, crop, resizecropauto (resize: 0 = derive from the original aspect ratio)
	Height int

	Top        int // extract
	Left       int
	AreaWidth  int
	AreaHeight int

	Gravity string // crop

	Angle float64 // rotate, clockwise degrees in [0, 360)
	Sigma float64 // blur

	Watermark *Watermark

	Format  Format // format
	Quality int    // quality
}

// Watermark describes an overlay composited onto the canvas.
type Watermark struct {
	Image    string  // source URL, fetched through the guarded client
	Text     string  // drawn instead of Image when set
	Opacity  float64 // 0..1
	Position string  // "{top|center|bottom}-{left|center|right}"
}

// Canonical returns a stable textual form of the operation.
func (o Operation) Canonical() string {
	var b strings.Builder
	b.WriteString(string(o.Kind))

	switch o.Kind {
	case KindResize:
		writeKV(&b, "w", strconv.Itoa(o.Width))
		writeKV(&b, "h", strconv.Itoa(o.Height))
	case KindResizeCropAuto:
		writeKV(&b, "w", strconv.Itoa(o.Width))
		writeKV(&b, "h", strconv.Itoa(o.Height))
	case KindCrop:
		writeKV(&b, "w", strconv.Itoa(o.Width))
		writeKV(&b, "h", strconv.Itoa(o.Height))
		writeKV(&b, "g", o.Gravity)
	case KindExtract:
		writeKV(&b, "t", strconv.Itoa(o.Top))
		writeKV(&b, "l", strconv.Itoa(o.Left))
		writeKV(&b, "w", strconv.Itoa(o.AreaWidth))
		writeKV(&b, "h", strconv.Itoa(o.AreaHeight))
	case KindRotate:
		writeKV(&b, "a", formatFloat(o.Angle))
	case KindBlur:
		writeKV(&b, "s", formatFloat(o.Sigma))
	case KindWatermark:
		if o.Watermark != nil {
			writeKV(&b, "img", strconv.Quote(o.Watermark.Image))
			writeKV(&b, "txt", strconv.Quote(o.Watermark.Text))
			writeKV(&b, "o", formatFloat(o.Watermark.Opacity))
			writeKV(&b, "p", o.Watermark.Position)
		}
	case KindFormat:
		writeKV(&b, "f", string(o.Format))
	case KindQuality:
		writeKV(&b, "q", strconv.Itoa(o.Quality))
	}

	return b.String()
}

func writeKV(b *strings.Builder, k, v string) {
	b.WriteByte(';')
	b.WriteString(k)
	b.WriteByte('=')
	b.WriteString(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
