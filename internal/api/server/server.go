package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-gateway/internal/config"
)

// New creates the HTTP server. Write timeout must cover the slowest build a client may wait for.
func New(cfg config.Server, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
