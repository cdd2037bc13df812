package middleware

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// CORSMiddleware allows cross-origin reads of images and exposes the gateway headers.
func CORSMiddleware() func(c *ginext.Context) {
	return func(c *ginext.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Range, If-None-Match, If-Modified-Since, If-Range, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "ETag, Content-Range, Content-Length, x-amz-meta-public-width, x-amz-meta-public-height, x-cache, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
