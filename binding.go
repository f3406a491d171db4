package strand

import (
	"fmt"
	"strconv"
	"strings"
)

// Binding is the stable identity of a serialized type: a logical name plus a
// schema version. It decouples stored payloads from Go type names so types can
// be renamed and multiple versions can coexist.
type Binding struct {
	// Name is the logical type name (e.g. "OrderCreated").
	Name string

	// Version is the schema version of the type, starting at 1.
	Version int
}

// NewBinding creates a Binding with the given name and version.
func NewBinding(name string, version int) Binding {
	return Binding{Name: name, Version: version}
}

// Key returns the binding key in the canonical "{name}|v:{version}" format.
func (b Binding) Key() string {
	return fmt.Sprintf("%s|v:%d", b.Name, b.Version)
}

// IsZero reports whether the Binding is empty.
func (b Binding) IsZero() bool {
	return b.Name == "" && b.Version == 0
}

// Validate checks if the Binding is usable as a type key.
func (b Binding) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("strand: binding name is required")
	}
	if b.Version < 1 {
		return fmt.Errorf("strand: binding version must be >= 1, got %d", b.Version)
	}
	return nil
}

// ParseBindingKey parses a binding key in the "{name}|v:{version}" format.
// Returns an error if the format is invalid.
func ParseBindingKey(key string) (Binding, error) {
	idx := strings.LastIndex(key, "|v:")
	if idx <= 0 {
		return Binding{}, fmt.Errorf("strand: invalid binding key %q, expected 'name|v:version'", key)
	}
	version, err := strconv.Atoi(key[idx+len("|v:"):])
	if err != nil {
		return Binding{}, fmt.Errorf("strand: invalid binding key %q, expected 'name|v:version'", key)
	}
	return Binding{Name: key[:idx], Version: version}, nil
}

// AggregateKey derives the storage identity of an aggregate snapshot from a
// business identifier and the aggregate's binding. The type version is part of
// the identity so reshaped aggregates get fresh snapshots instead of decoding
// stale payloads.
func AggregateKey(id string, b Binding) string {
	return fmt.Sprintf("%s|v:%d", id, b.Version)
}
