package strand

// Event is the polymorphic interface implemented by all domain events.
// An event declares its binding so the registry and codec can round-trip it
// without depending on the Go type name.
type Event interface {
	// EventBinding returns the stable (name, version) identity of the event.
	EventBinding() Binding
}
