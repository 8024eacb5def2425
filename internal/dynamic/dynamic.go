// Package dynamic resolves markers by importing the module that declares
// them. Importing runs the module's top-level code, so it is only used for
// markers static extraction could not resolve.
package dynamic

import (
	"context"
	"fmt"
	"sync"

	"pytrace/internal/errors"
	"pytrace/internal/marker"
	"pytrace/internal/observe"
	"pytrace/internal/paths"
)

// Loader imports a file under a module name and reports the markers
// attached to its declarations, keyed by qualified name within the module.
type Loader interface {
	Load(ctx context.Context, file, moduleName string) (map[string][]marker.Marker, error)
}

// Resolver answers marker lookups for declarations, loading each module
// through its Loader on first use.
type Resolver struct {
	loader      Loader
	registry    *Registry
	projectRoot string
	observer    observe.Observer
	warnOnce    sync.Once
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver sets where the resolver reports events.
func WithObserver(o observe.Observer) Option {
	return func(r *Resolver) { r.observer = observe.OrDiscard(o) }
}

// NewResolver creates a resolver computing module names relative to
// projectRoot.
func NewResolver(loader Loader, projectRoot string, opts ...Option) *Resolver {
	r := &Resolver{
		loader:      loader,
		registry:    NewRegistry(),
		projectRoot: projectRoot,
		observer:    observe.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the markers attached at import time to qualifiedName in
// file. A declaration the module does not expose, such as a closure, is a
// TARGET_NOT_FOUND error the caller may recover from.
func (r *Resolver) Resolve(ctx context.Context, file, qualifiedName string) ([]marker.Marker, error) {
	module, err := paths.ModuleName(file, r.projectRoot)
	if err != nil {
		return nil, errors.NewTraceError(errors.ConfigInvalid,
			fmt.Sprintf("%s is not under project root %s", file, r.projectRoot), err, nil)
	}

	r.warnOnce.Do(func() {
		r.observer.OnEvent(ctx, observe.Event{
			Kind:    observe.DynamicLoad,
			Level:   observe.LevelWarn,
			Message: "importing modules to resolve metadata; their top-level code will run",
			Path:    file,
		})
	})

	err = r.registry.Load(ctx, module, func(ctx context.Context) (map[string][]marker.Marker, error) {
		return r.loader.Load(ctx, file, module)
	})
	if err != nil {
		return nil, err
	}

	markers, ok := r.registry.Lookup(module + "." + qualifiedName)
	if !ok {
		r.observer.OnEvent(ctx, observe.Event{
			Kind:    observe.TargetNotFound,
			Level:   observe.LevelDebug,
			Message: "declaration not reachable from module",
			Path:    file,
			Key:     qualifiedName,
		})
		return nil, errors.NewTraceError(errors.TargetNotFound,
			fmt.Sprintf("%s has no attribute path %s", module, qualifiedName), nil, nil)
	}
	return markers, nil
}
