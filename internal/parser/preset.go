package parser

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aliskhannn/image-gateway/internal/model"
)

// Presets is a concurrency-safe registry of named plans.
type Presets struct {
	mu     sync.RWMutex
	byName map[string]model.Plan
}

// NewPresets creates an empty registry.
func NewPresets() *Presets {
	return &Presets{byName: make(map[string]model.Plan)}
}

// Lookup returns the plan registered under name.
func (r *Presets) Lookup(name string) (model.Plan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plan, ok := r.byName[name]
	return plan, ok
}

// Set registers or replaces a preset.
func (r *Presets) Set(name string, plan model.Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[name] = plan
}

// Names returns the registered preset names in sorted order.
func (r *Presets) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadPresets parses query-string preset definitions and registers them.
// Every definition is validated with the same rules as a request.
func (p *Parser) LoadPresets(defs map[string]string) error {
	for name, query := range defs {
		plan, err := p.ParseQuery(query)
		if err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
		if plan.IsIdentity() {
			return fmt.Errorf("preset %q: no operations", name)
		}
		p.presets.Set(name, plan)
	}
	return nil
}
