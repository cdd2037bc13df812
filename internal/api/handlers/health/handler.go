package health

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-gateway/internal/api/respond"
	"github.com/aliskhannn/image-gateway/internal/cache"
)

// cacheStats exposes the collapsing cache counters.
type cacheStats interface {
	Stats() cache.Stats
	InFlight() int
}

// Handler reports liveness together with cache counters.
type Handler struct {
	cache cacheStats
}

// NewHandler creates a new Handler.
func NewHandler(c cacheStats) *Handler {
	return &Handler{cache: c}
}

// Status is the body of GET /healthz.
type Status struct {
	Status    string `json:"status"`
	Hits      int64  `json:"cache_hits"`
	Misses    int64  `json:"cache_misses"`
	Builds    int64  `json:"builds"`
	Failures  int64  `json:"build_failures"`
	Collapsed int64  `json:"collapsed"`
	InFlight  int    `json:"in_flight"`
}

// Check returns the cache snapshot.
func (h *Handler) Check(c *ginext.Context) {
	s := h.cache.Stats()
	respond.OK(c, Status{
		Status:    "ok",
		Hits:      s.Hits,
		Misses:    s.Misses,
		Builds:    s.Builds,
		Failures:  s.Failures,
		Collapsed: s.Collapsed,
		InFlight:  h.cache.InFlight(),
	})
}
