package sqs

import (
	"fmt"
	"sync"
)

// Registry is an explicit registration table mapping listener names to their
// definitions. It is populated by ordinary function calls at startup and read
// once when a container starts.
type Registry struct {
	mu        sync.Mutex
	listeners map[string]ListenerDefinition
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[string]ListenerDefinition),
	}
}

// Register validates the definition, applies defaults and records it.
// Duplicate names are rejected.
func (r *Registry) Register(def ListenerDefinition) error {
	def = def.WithDefaults()
	if err := def.Validate(); err != nil {
		return fmt.Errorf("failed to register listener: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[def.Name]; ok {
		return fmt.Errorf("listener %q already registered", def.Name)
	}
	r.listeners[def.Name] = def
	r.order = append(r.order, def.Name)

	return nil
}

// Listeners returns the registered definitions in registration order.
func (r *Registry) Listeners() []ListenerDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := make([]ListenerDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.listeners[name])
	}

	return defs
}

// Clear removes all registrations. Intended for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = make(map[string]ListenerDefinition)
	r.order = nil
}

// DefaultRegistry backs the package-level listener registration used by the
// start/stop convenience entry points.
var DefaultRegistry = NewRegistry()

// RegisterListener adds a definition to the default registry.
func RegisterListener(def ListenerDefinition) error {
	return DefaultRegistry.Register(def)
}
