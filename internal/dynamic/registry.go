package dynamic

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"pytrace/internal/marker"
)

// LoadFunc imports one module and returns the markers it attached, keyed
// by fully-qualified declaration name.
type LoadFunc func(ctx context.Context) (map[string][]marker.Marker, error)

// Registry is the load-scoped table of markers materialised by importing
// modules. Each module is loaded at most once; concurrent requests for the
// same module share one load.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]marker.Marker
	loaded  map[string]error
	group   singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string][]marker.Marker),
		loaded:  make(map[string]error),
	}
}

// Lookup returns the markers registered for a fully-qualified name.
func (r *Registry) Lookup(qualifiedName string) ([]marker.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[qualifiedName]
	return m, ok
}

// Loaded reports whether module has been loaded, and the load's error.
func (r *Registry) Loaded(module string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	err, ok := r.loaded[module]
	return ok, err
}

// Load runs load for module unless it already ran. Entries are registered
// under "module.qualifiedName". A failed load is remembered and its error
// returned to later callers.
func (r *Registry) Load(ctx context.Context, module string, load LoadFunc) error {
	if done, err := r.Loaded(module); done {
		return err
	}
	_, err, _ := r.group.Do(module, func() (interface{}, error) {
		if done, err := r.Loaded(module); done {
			return nil, err
		}
		entries, err := load(ctx)
		if ctx.Err() != nil {
			// a cancelled load may be retried by a later run
			return nil, ctx.Err()
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		r.loaded[module] = err
		for name, markers := range entries {
			r.entries[module+"."+name] = markers
		}
		return nil, err
	})
	return err
}
