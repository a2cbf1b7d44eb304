package secret

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ProviderFactory builds a Provider from its configuration block.
type ProviderFactory func(cfg map[string]any) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// NewDefaultRegistry creates a Registry with the env and file providers.
// The env factory reads an optional "prefix" and the file factory an
// optional "dir".
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("env", func(cfg map[string]any) (Provider, error) {
		prefix, _ := cfg["prefix"].(string)
		return NewEnvProvider(prefix), nil
	})
	_ = r.Register("file", func(cfg map[string]any) (Provider, error) {
		dir, _ := cfg["dir"].(string)
		if dir == "" {
			dir = "."
		}
		return NewFileProvider(dir), nil
	})
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return ErrInvalidProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds the provider registered under name.
func (r *Registry) Create(name string, cfg map[string]any) (Provider, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return factory(cfg)
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
