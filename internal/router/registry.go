// Package router allocates task instances to the processors whose
// execution environments satisfy them.
package router

import (
	"sort"
	"sync"
)

// Processor describes a registered execution endpoint.
type Processor struct {
	ID           string   `json:"id"`
	Environments []string `json:"environments"`
}

// Supports reports whether the processor serves the given environment tag.
func (p Processor) Supports(environment string) bool {
	for _, env := range p.Environments {
		if env == environment {
			return true
		}
	}
	return false
}

// Registry tracks the currently active processors. Registration happens
// out of core scope; the orchestration core only reads from here during
// allocation.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register adds or replaces a processor.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.ID] = p
}

// Deregister removes a processor.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processors, id)
}

// Get returns the processor registered under id.
func (r *Registry) Get(id string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[id]
	return p, ok
}

// List returns all registered processors in sorted id order. The sort
// makes the allocation fallback deterministic where the consumed
// behavior left it unspecified.
func (r *Registry) List() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, 0, len(r.processors))
	for _, p := range r.processors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
