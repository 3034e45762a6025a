package providers

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds configured providers by name and picks fallbacks when
// the preferred one is missing.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Resolve returns the named provider, or the first registered one when
// name is empty. An empty registry is an error.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name != "" {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("provider not configured: %s", name)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return r.providers[r.order[0]], nil
}

// Embed dispatches to the first embedding-capable provider.
func (r *Registry) Embed(ctx context.Context, text string) ([]float32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if ec, ok := r.providers[name].(EmbeddingCapable); ok {
			return ec.Embed(ctx, text)
		}
	}
	return nil, fmt.Errorf("no embedding-capable provider configured")
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
