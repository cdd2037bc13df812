package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/api/respond"
	"github.com/aliskhannn/image-gateway/internal/model"
)

// service defines the interface for preset operations.
type service interface {
	Save(ctx context.Context, name, query string) error
	Names() []string
}

// Handler provides HTTP handlers for preset management.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// SaveRequest is the body of PUT /api/presets/:name.
type SaveRequest struct {
	Query string `json:"query"`
}

// List returns the names of all registered presets.
func (h *Handler) List(c *ginext.Context) {
	respond.OK(c, h.service.Names())
}

// Save creates or replaces a preset.
func (h *Handler) Save(c *ginext.Context) {
	name := c.Param("name")

	var req SaveRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.service.Save(c.Request.Context(), name, req.Query); err != nil {
		kind := model.KindOf(err)
		if kind == model.ErrInternal {
			zlog.Logger.Err(err).Str("preset", name).Msg("failed to save preset")
			respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to save preset"))
			return
		}
		respond.Fail(c, kind.Status(), err)
		return
	}

	respond.OK(c, map[string]string{"name": name, "query": req.Query})
}
