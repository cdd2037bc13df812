package response

import (
	"net/http"

	"github.com/aliskhannn/image-gateway/internal/config"
)

const (
	longLived = "public, max-age=31536000"
	noCache   = "no-cache"
)

// defaultRules apply when the configuration has no headers section.
var defaultRules = []config.HeaderRule{
	{StatusCodes: []int{200, 206, 304}, Values: map[string]string{"Cache-Control": longLived}},
	{StatusCodes: []int{404}, Values: map[string]string{"Cache-Control": "public, max-age=60"}},
	{StatusCodes: []int{400, 413}, Values: map[string]string{"Cache-Control": "public, max-age=300"}},
	{StatusCodes: []int{416, 500, 502, 503, 504}, Values: map[string]string{"Cache-Control": noCache}},
}

// HeaderPolicy maps a response status to the headers set on every response with that status.
type HeaderPolicy struct {
	byStatus map[int]http.Header
}

// NewHeaderPolicy builds the status table. Later rules override earlier ones for the same header.
func NewHeaderPolicy(rules []config.HeaderRule) *HeaderPolicy {
	if len(rules) == 0 {
		rules = defaultRules
	}

	p := &HeaderPolicy{byStatus: make(map[int]http.Header)}
	for _, rule := range rules {
		for _, code := range rule.StatusCodes {
			h, ok := p.byStatus[code]
			if !ok {
				h = make(http.Header)
				p.byStatus[code] = h
			}
			for k, v := range rule.Values {
				h.Set(k, v)
			}
		}
	}

	return p
}

// Apply sets the configured headers for status on h. Statuses without a rule
// get no-cache so errors are never stored by shared caches by accident.
func (p *HeaderPolicy) Apply(h http.Header, status int) {
	values, ok := p.byStatus[status]
	if !ok {
		h.Set("Cache-Control", noCache)
		return
	}
	for k, v := range values {
		h[k] = append([]string(nil), v...)
	}
}
