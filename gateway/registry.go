package gateway

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jonwraymond/callgate/health"
)

// Registry holds named gateways, typically one per downstream dependency.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]*Gateway
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]*Gateway)}
}

// NewRegistryFromConfig builds one gateway per entry of cfgs, sharing opts.
func NewRegistryFromConfig(cfgs map[string]Config, opts ...Option) (*Registry, error) {
	r := NewRegistry()

	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		g, err := New(name, cfgs[name], opts...)
		if err != nil {
			return nil, err
		}
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds g under its name.
func (r *Registry) Register(g *Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.gateways[g.name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateGateway, g.name)
	}
	r.gateways[g.name] = g
	return nil
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (*Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGatewayNotFound, name)
	}
	return g, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns a snapshot of every gateway, sorted by name.
func (r *Registry) Stats() []Stats {
	names := r.Names()
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if g, err := r.Get(name); err == nil {
			out = append(out, g.Stats())
		}
	}
	return out
}

// RegisterHealth adds every gateway's Checker to agg.
func (r *Registry) RegisterHealth(agg *health.Aggregator) {
	for _, name := range r.Names() {
		if g, err := r.Get(name); err == nil {
			c := g.Checker()
			agg.Register(c.Name(), c)
		}
	}
}
