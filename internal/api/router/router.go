package router

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-gateway/internal/api/handlers/health"
	"github.com/aliskhannn/image-gateway/internal/api/handlers/image"
	"github.com/aliskhannn/image-gateway/internal/api/handlers/preset"
	"github.com/aliskhannn/image-gateway/internal/middleware"
)

// Setup registers middleware and routes. Image routes take every path
// not claimed by the fixed ones.
func Setup(h *image.Handler, ph *preset.Handler, hh *health.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.Metrics())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	metrics := promhttp.Handler()
	r.GET("/metrics", func(c *ginext.Context) { metrics.ServeHTTP(c.Writer, c.Request) })
	r.GET("/healthz", hh.Check)

	api := r.Group("/api")

	api.POST("/warm", h.Warm)          // enqueue a cache warm request
	api.GET("/presets", ph.List)       // list preset names
	api.PUT("/presets/:name", ph.Save) // create or replace a preset

	r.GET("/:bucket/*key", h.Serve)  // original or transformed image
	r.HEAD("/:bucket/*key", h.Serve) // headers only

	return r
}
