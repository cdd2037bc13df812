// Package response writes cached entries as HTTP responses: validators,
// conditional requests, byte ranges and content codings.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/config"
	"github.com/aliskhannn/image-gateway/internal/model"
)

// Response headers specific to the gateway.
const (
	HeaderWidth  = "x-amz-meta-public-width"
	HeaderHeight = "x-amz-meta-public-height"
	HeaderCache  = "x-cache"
)

// Assembler renders entries and errors onto an http.ResponseWriter.
type Assembler struct {
	headers *HeaderPolicy
	types   map[string]bool
	minSize int
	level   int
}

// New creates an Assembler from the header and compression configuration.
func New(rules []config.HeaderRule, cfg config.Compression) *Assembler {
	types := make(map[string]bool, len(cfg.Types))
	for _, t := range cfg.Types {
		types[strings.ToLower(t)] = true
	}

	return &Assembler{
		headers: NewHeaderPolicy(rules),
		types:   types,
		minSize: cfg.MinSize,
		level:   cfg.Level,
	}
}

// Encoding returns the content coding to serve e with, or "" for identity.
// Range requests and incompressible payloads are always served as identity.
func (a *Assembler) Encoding(r *http.Request, e *model.Entry) string {
	if r.Header.Get("Range") != "" || e.ContentEncoding != "" {
		return ""
	}
	if len(e.Payload) < a.minSize || !a.types[mediaType(e.ContentType)] {
		return ""
	}
	return NegotiateEncoding(r.Header.Get("Accept-Encoding"))
}

// Encode builds the encoded variant of an identity entry.
func (a *Assembler) Encode(e *model.Entry, encoding string) (*model.Entry, error) {
	payload, err := Compress(e.Payload, encoding, a.level)
	if err != nil {
		return nil, model.NewError(model.ErrInternal, "failed to encode response", err)
	}

	variant := *e
	variant.Payload = payload
	variant.ContentEncoding = encoding
	variant.Size = int64(len(payload))
	variant.ETag = variantETag(e.ETag, encoding)

	return &variant, nil
}

// Write renders identity, or its encoded variant when not nil, honoring
// conditional and range headers of r.
func (a *Assembler) Write(w http.ResponseWriter, r *http.Request, identity, encoded *model.Entry, hit bool) {
	e := identity
	if encoded != nil {
		e = encoded
	}

	h := w.Header()
	h.Set("Vary", "Accept, Accept-Encoding")
	h.Set("ETag", e.ETag)
	if !e.LastModified.IsZero() {
		h.Set("Last-Modified", e.LastModified.UTC().Format(http.TimeFormat))
	}
	if e.Width > 0 && e.Height > 0 {
		h.Set(HeaderWidth, strconv.Itoa(e.Width))
		h.Set(HeaderHeight, strconv.Itoa(e.Height))
	}
	if hit {
		h.Set(HeaderCache, "hit")
	} else {
		h.Set(HeaderCache, "miss")
	}

	if notModified(r, []string{e.ETag, identity.ETag}, e.LastModified) {
		a.headers.Apply(h, http.StatusNotModified)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", e.ContentType)
	if e.ContentEncoding != "" {
		h.Set("Content-Encoding", e.ContentEncoding)
	}

	size := int64(len(e.Payload))
	if rh := r.Header.Get("Range"); rh != "" && encoded == nil && rangeAllowed(r, e.ETag, e.LastModified) {
		ranges, err := parseRange(rh, size)
		if errors.Is(err, errTooManyRanges) {
			a.writeBody(w, r, http.StatusOK, e.Payload)
			return
		}
		if err != nil {
			h.Del("Content-Type")
			h.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			a.headers.Apply(h, http.StatusRequestedRangeNotSatisfiable)
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		if len(ranges) == 1 {
			rg := ranges[0]
			h.Set("Content-Range", rg.contentRange(size))
			a.writeBody(w, r, http.StatusPartialContent, e.Payload[rg.start:rg.end+1])
			return
		}

		body, boundary, err := multipartBody(e, ranges, size)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to build multipart response")
			a.WriteError(w, r, model.NewError(model.ErrInternal, "failed to build range response", err), "")
			return
		}
		h.Set("Content-Type", "multipart/byteranges; boundary="+boundary)
		a.writeBody(w, r, http.StatusPartialContent, body)
		return
	}

	a.writeBody(w, r, http.StatusOK, e.Payload)
}

func (a *Assembler) writeBody(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	h := w.Header()
	a.headers.Apply(h, status)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		zlog.Logger.Debug().Err(err).Msg("client went away while writing body")
	}
}

func multipartBody(e *model.Entry, ranges []byteRange, size int64) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, rg := range ranges {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":  {e.ContentType},
			"Content-Range": {rg.contentRange(size)},
		})
		if err != nil {
			return nil, "", fmt.Errorf("create part: %w", err)
		}
		if _, err := part.Write(e.Payload[rg.start : rg.end+1]); err != nil {
			return nil, "", fmt.Errorf("write part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf.Bytes(), mw.Boundary(), nil
}

type errorBody struct {
	Error struct {
		Kind    model.ErrorKind `json:"kind"`
		Message string          `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError renders err as a JSON body with the status and caching policy of its kind.
func (a *Assembler) WriteError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	kind := model.KindOf(err)
	status := kind.Status()

	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = publicMessage(err, kind)
	body.RequestID = requestID

	data, mErr := json.Marshal(body)
	if mErr != nil {
		data = []byte(`{"error":{"kind":"internal","message":"internal error"}}`)
	}

	h := w.Header()
	for _, k := range []string{"ETag", "Last-Modified", "Content-Encoding", "Content-Range", "Accept-Ranges", HeaderWidth, HeaderHeight} {
		h.Del(k)
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	a.writeBody(w, r, status, data)
}

// publicMessage hides internal causes from clients.
func publicMessage(err error, kind model.ErrorKind) string {
	var e *model.Error
	if kind == model.ErrInternal || !errors.As(err, &e) {
		return http.StatusText(kind.Status())
	}
	return e.Message
}

func variantETag(etag, encoding string) string {
	if strings.HasSuffix(etag, `"`) {
		return etag[:len(etag)-1] + "-" + encoding + `"`
	}
	return etag + "-" + encoding
}

func mediaType(ct string) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
}
