package response

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Supported content codings in preference order for equal weights.
const (
	EncodingBrotli = "br"
	EncodingZstd   = "zstd"
	EncodingGzip   = "gzip"
)

var encodingPreference = []string{EncodingBrotli, EncodingZstd, EncodingGzip}

// NegotiateEncoding picks the best supported coding from an Accept-Encoding header.
// An empty result means identity.
func NegotiateEncoding(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}

	weights := make(map[string]float64)
	wildcard := -1.0
	for _, part := range strings.Split(header, ",") {
		name, q := parseCoding(part)
		switch name {
		case "":
		case "*":
			wildcard = q
		default:
			weights[name] = q
		}
	}

	best, bestQ := "", 0.0
	for _, enc := range encodingPreference {
		q, ok := weights[enc]
		if !ok {
			if wildcard < 0 {
				continue
			}
			q = wildcard
		}
		if q > bestQ {
			best, bestQ = enc, q
		}
	}

	return best
}

func parseCoding(part string) (string, float64) {
	fields := strings.Split(part, ";")
	name := strings.ToLower(strings.TrimSpace(fields[0]))
	if name == "x-gzip" {
		name = EncodingGzip
	}

	q := 1.0
	for _, param := range fields[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.ToLower(strings.TrimSpace(k)) != "q" {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return "", 0
		}
		q = parsed
	}

	return name, q
}

// Compress encodes payload with the named coding.
func Compress(payload []byte, encoding string, level int) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser

	switch encoding {
	case EncodingBrotli:
		w = brotli.NewWriterLevel(&buf, min(max(level, brotli.BestSpeed), brotli.BestCompression))
	case EncodingZstd:
		zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		w = zw
	case EncodingGzip:
		gw, err := gzip.NewWriterLevel(&buf, min(max(level, gzip.BestSpeed), gzip.BestCompression))
		if err != nil {
			return nil, fmt.Errorf("create gzip writer: %w", err)
		}
		w = gw
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compress %s: %w", encoding, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close %s writer: %w", encoding, err)
	}

	return buf.Bytes(), nil
}
