// Package registry maps context names to context generators. The registry is
// built once at startup and passed by handle into the engine; it is read-only
// after that.
package registry

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownContext is returned when no generator is registered under a name.
var ErrUnknownContext = errors.New("unknown context")

// Generator produces the dynamic data merged into a template at render time.
// A generator may perform I/O and must return an error rather than partial
// data; the engine treats any generator error as a hard dispatch failure.
type Generator func(ctx context.Context, params map[string]any) (map[string]any, error)

// Registry holds the context name to generator mapping.
type Registry struct {
	generators map[string]Generator
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds a generator under the given name, replacing any previous one.
// Register must only be called during startup wiring.
func (r *Registry) Register(name string, g Generator) {
	r.generators[name] = g
}

// Resolve returns the generator registered under name.
func (r *Registry) Resolve(name string) (Generator, error) {
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}

	return g, nil
}

// Names returns the registered context names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}

	return names
}
