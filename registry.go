package strand

import (
	"sort"
	"sync"
)

// EventFactory constructs a new, empty instance of a concrete event type.
// The returned value must be a pointer so payloads can be decoded into it.
type EventFactory func() Event

// AggregateFactory constructs a new, empty instance of a concrete aggregate
// type. The returned value must be a pointer embedding AggregateBase.
type AggregateFactory func() Aggregate

// Registry maps binding keys to concrete event and aggregate types.
//
// A Registry is built once at startup and read concurrently afterwards; it is
// passed into the Service by reference rather than held as package state so
// tests can build their own. Registration is factory-based: each type declares
// its binding through EventBinding/AggregateBinding, checked at registration.
type Registry struct {
	mu         sync.RWMutex
	events     map[string]EventFactory
	aggregates map[string]AggregateFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		events:     make(map[string]EventFactory),
		aggregates: make(map[string]AggregateFactory),
	}
}

// RegisterEvents adds event factories keyed by their declared bindings.
// Factories whose events declare a zero binding are silently skipped, so
// mixed-purpose type lists can be registered wholesale.
func (r *Registry) RegisterEvents(factories ...EventFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, factory := range factories {
		binding := factory().EventBinding()
		if binding.IsZero() {
			continue
		}
		r.events[binding.Key()] = factory
	}
}

// RegisterAggregates adds aggregate factories keyed by their declared bindings.
// Factories whose aggregates declare a zero binding are silently skipped.
func (r *Registry) RegisterAggregates(factories ...AggregateFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, factory := range factories {
		binding := factory().AggregateBinding()
		if binding.IsZero() {
			continue
		}
		r.aggregates[binding.Key()] = factory
	}
}

// NewEvent constructs an empty event for the given binding key.
// Returns a *TypeNotRegisteredError if no event is bound to the key; this is
// fatal for the read that needed it, since it indicates a deployment or
// versioning mismatch rather than a transient fault.
func (r *Registry) NewEvent(key string) (Event, error) {
	r.mu.RLock()
	factory, ok := r.events[key]
	r.mu.RUnlock()

	if !ok {
		return nil, NewTypeNotRegisteredError(key)
	}
	return factory(), nil
}

// NewAggregate constructs an empty aggregate for the given binding key.
// Returns a *TypeNotRegisteredError if no aggregate is bound to the key.
func (r *Registry) NewAggregate(key string) (Aggregate, error) {
	r.mu.RLock()
	factory, ok := r.aggregates[key]
	r.mu.RUnlock()

	if !ok {
		return nil, NewTypeNotRegisteredError(key)
	}
	return factory(), nil
}

// EventKeys returns the sorted binding keys of all registered events.
func (r *Registry) EventKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.events))
	for key := range r.events {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// AggregateKeys returns the sorted binding keys of all registered aggregates.
func (r *Registry) AggregateKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.aggregates))
	for key := range r.aggregates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
