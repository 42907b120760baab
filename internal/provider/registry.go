package provider

import (
	"fmt"
	"slices"
	"sync"
)

// Factory builds a provider. Options are provider specific.
type Factory func() (Provider, error)

// Registry maps provider names ("ics", "bridge", "google") to factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = f
}

// Open builds the provider registered under name.
func (r *Registry) Open(name string) (Provider, error) {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("calendar provider %q is not implemented (known: %v)", name, r.Names())
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("open %s provider: %w", name, err)
	}
	return p, nil
}

// Names returns the registered names in ascending order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
