package model

import (
	"strconv"
	"strings"
)

// Format is an output image representation.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

var contentTypes = map[Format]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatWebP: "image/webp",
	FormatGIF:  "image/gif",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
}

// ParseFormat maps a user supplied format name to a Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	case "gif":
		return FormatGIF, true
	case "bmp":
		return FormatBMP, true
	case "tiff", "tif":
		return FormatTIFF, true
	}
	return "", false
}

// FormatFromContentType returns the format of a stored object, if it is an image we can encode.
func FormatFromContentType(ct string) (Format, bool) {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	for f, t := range contentTypes {
		if t == ct {
			return f, true
		}
	}
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return FormatJPEG, true
	}
	return "", false
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Plan is the normalized, ordered list of operations plus the output representation.
type Plan struct {
	Operations []Operation
	Format     Format // resolved output format; empty means the origin's native bytes
	Quality    int    // 0 = encoder default
}

// IsIdentity reports whether the plan leaves the origin payload untouched.
func (p Plan) IsIdentity() bool {
	return len(p.Operations) == 0 && p.Format == "" && p.Quality == 0
}

// Canonical returns the serialization used for plan equality and fingerprinting.
func (p Plan) Canonical() string {
	var b strings.Builder
	for i, op := range p.Operations {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(op.Canonical())
	}
	b.WriteString("#f=")
	b.WriteString(string(p.Format))
	b.WriteString("#q=")
	b.WriteString(strconv.Itoa(p.Quality))
	return b.String()
}

// Equal reports whether two plans have the same canonical form.
func (p Plan) Equal(other Plan) bool {
	return p.Canonical() == other.Canonical()
}
