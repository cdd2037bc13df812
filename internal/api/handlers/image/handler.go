package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/api/respond"
	"github.com/aliskhannn/image-gateway/internal/middleware"
	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/parser"
	imagesvc "github.com/aliskhannn/image-gateway/internal/service/image"
)

// service defines the interface for image-related operations.
type service interface {
	Parse(path, rawQuery string, header http.Header) (parser.Request, error)
	Resolve(ctx context.Context, req parser.Request) (imagesvc.Result, error)
	Variant(ctx context.Context, res imagesvc.Result, encoding string) (*model.Entry, error)
	Enqueue(ctx context.Context, req model.WarmRequest) (uuid.UUID, error)
}

// assembler writes entries and errors as HTTP responses.
type assembler interface {
	Encoding(r *http.Request, e *model.Entry) string
	Write(w http.ResponseWriter, r *http.Request, identity, encoded *model.Entry, hit bool)
	WriteError(w http.ResponseWriter, r *http.Request, err error, requestID string)
}

// Handler provides HTTP handlers for image endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service   service
	assembler assembler
}

// NewHandler creates a new Handler with the given service and response assembler.
func NewHandler(s service, a assembler) *Handler {
	return &Handler{service: s, assembler: a}
}

// Serve handles GET and HEAD /{bucket}/{key}[/{preset}] with optional transform query.
func (h *Handler) Serve(c *ginext.Context) {
	ctx := c.Request.Context()
	requestID := middleware.GetRequestID(c)

	req, err := h.service.Parse(c.Request.URL.Path, c.Request.URL.RawQuery, c.Request.Header)
	if err != nil {
		h.fail(c, err, requestID)
		return
	}

	res, err := h.service.Resolve(ctx, req)
	if err != nil {
		h.fail(c, err, requestID)
		return
	}

	var encoded *model.Entry
	if enc := h.assembler.Encoding(c.Request, res.Entry); enc != "" {
		encoded, err = h.service.Variant(ctx, res, enc)
		if err != nil {
			// identity is always acceptable
			zlog.Logger.Warn().Err(err).Str("request_id", requestID).Str("encoding", enc).Msg("failed to encode response")
			encoded = nil
		}
	}

	h.assembler.Write(c.Writer, c.Request, res.Entry, encoded, res.Hit)
}

func (h *Handler) fail(c *ginext.Context, err error, requestID string) {
	kind := model.KindOf(err)
	event := zlog.Logger.Debug()
	if kind.Status() >= http.StatusInternalServerError {
		event = zlog.Logger.Error()
	}
	event.Err(err).
		Str("request_id", requestID).
		Str("path", c.Request.URL.Path).
		Str("kind", string(kind)).
		Msg("request failed")

	h.assembler.WriteError(c.Writer, c.Request, err, requestID)
}

// WarmRequest is the body of POST /api/warm.
type WarmRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Query  string `json:"query"`
	Accept string `json:"accept"`
}

// Warm enqueues a representation to be built ahead of client traffic.
func (h *Handler) Warm(c *ginext.Context) {
	var body WarmRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to decode warm request")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if body.Bucket == "" || body.Key == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("bucket and key are required"))
		return
	}

	id, err := h.service.Enqueue(c.Request.Context(), model.WarmRequest{
		Bucket: body.Bucket,
		Key:    body.Key,
		Query:  body.Query,
		Accept: body.Accept,
	})
	if err != nil {
		switch {
		case errors.Is(err, imagesvc.ErrWarmingDisabled):
			respond.Fail(c, http.StatusServiceUnavailable, err)
		case model.KindOf(err) != model.ErrInternal:
			respond.Fail(c, model.KindOf(err).Status(), err)
		default:
			zlog.Logger.Err(err).Msg("failed to enqueue warm request")
			respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to enqueue warm request"))
		}
		return
	}

	respond.Accepted(c, map[string]interface{}{"id": id})
}
