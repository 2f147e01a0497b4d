package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Router dispatches completion streams to the provider serving a model id.
//
// Explicit routes (from the model catalog) take precedence over the model
// lists the registered providers advertise.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Client
	routes    map[string]string
}

var _ Client = (*Router)(nil)

// NewRouter creates a router over the given providers.
func NewRouter(clients ...Client) *Router {
	r := &Router{
		providers: make(map[string]Client),
		routes:    make(map[string]string),
	}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds a provider and routes every model it advertises to it,
// unless the model is already routed.
func (r *Router) Register(c Client) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[c.Name()] = c
	for _, m := range c.Models() {
		if _, ok := r.routes[m]; !ok {
			r.routes[m] = c.Name()
		}
	}
}

// Route pins modelID to the named provider.
func (r *Router) Route(modelID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[provider]; !ok {
		return fmt.Errorf("route %s: provider %q not registered", modelID, provider)
	}
	r.routes[modelID] = provider
	return nil
}

// Resolve returns the provider serving modelID.
func (r *Router) Resolve(modelID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.routes[modelID]
	if !ok {
		return nil, false
	}
	c, ok := r.providers[name]
	return c, ok
}

// Name returns the provider name.
func (r *Router) Name() string {
	return "router"
}

// Models returns every routed model id, sorted.
func (r *Router) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.routes))
	for m := range r.routes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OpenStream opens a stream on the provider serving req.Model.
func (r *Router) OpenStream(ctx context.Context, req *CompletionRequest) (Stream, error) {
	c, ok := r.Resolve(req.Model)
	if !ok {
		return nil, &StreamError{Provider: r.Name(), Model: req.Model, Err: ErrUnknownModel}
	}
	return c.OpenStream(ctx, req)
}
