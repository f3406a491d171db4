package strand

import (
	"context"
	"time"
)

// Test events

type cartCreated struct {
	Owner string `json:"owner"`
}

func (cartCreated) EventBinding() Binding { return NewBinding("CartCreated", 1) }

type cartItemAdded struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

func (cartItemAdded) EventBinding() Binding { return NewBinding("CartItemAdded", 1) }

type cartCleared struct{}

func (cartCleared) EventBinding() Binding { return NewBinding("CartCleared", 1) }

// auditNoted is registered but handled by no test aggregate.
type auditNoted struct {
	Note string `json:"note"`
}

func (auditNoted) EventBinding() Binding { return NewBinding("AuditNoted", 1) }

// unboundEvent has a zero binding and must be skipped at registration.
type unboundEvent struct{}

func (unboundEvent) EventBinding() Binding { return Binding{} }

// Test aggregates

type cart struct {
	AggregateBase

	Owner string         `json:"owner"`
	Items map[string]int `json:"items"`
}

func (cart) AggregateBinding() Binding { return NewBinding("Cart", 1) }

func (c *cart) ApplyEvent(event Event) bool {
	switch e := event.(type) {
	case *cartCreated:
		c.Owner = e.Owner
		c.Items = make(map[string]int)
		return true
	case *cartItemAdded:
		if c.Items == nil {
			c.Items = make(map[string]int)
		}
		c.Items[e.SKU] += e.Qty
		return true
	case *cartCleared:
		c.Items = make(map[string]int)
		return true
	default:
		return false
	}
}

// itemCounter observes only CartItemAdded events via its type filter.
type itemCounter struct {
	AggregateBase

	Count int `json:"count"`
}

func (itemCounter) AggregateBinding() Binding { return NewBinding("ItemCounter", 1) }

func (c *itemCounter) EventTypeFilter() []Binding {
	return []Binding{NewBinding("CartItemAdded", 1)}
}

func (c *itemCounter) ApplyEvent(event Event) bool {
	if _, ok := event.(*cartItemAdded); ok {
		c.Count++
		return true
	}
	return false
}

func newTestRegistry() *Registry {
	registry := NewRegistry()
	registry.RegisterEvents(
		func() Event { return &cartCreated{} },
		func() Event { return &cartItemAdded{} },
		func() Event { return &cartCleared{} },
		func() Event { return &auditNoted{} },
	)
	registry.RegisterAggregates(
		func() Aggregate { return &cart{} },
		func() Aggregate { return &itemCounter{} },
	)
	return registry
}

var (
	cartBinding    = NewBinding("Cart", 1)
	counterBinding = NewBinding("ItemCounter", 1)
)

// fixedClock returns a deterministic clock for audit-field assertions.
func fixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// staticActor resolves every context to the same actor name.
func staticActor(name string) ActorFunc {
	return func(ctx context.Context) string { return name }
}
