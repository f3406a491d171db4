package strand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaise(t *testing.T) {
	t.Run("applies the event and buffers it", func(t *testing.T) {
		c := &cart{}

		Raise(c, &cartCreated{Owner: "ada"})
		Raise(c, &cartItemAdded{SKU: "widget", Qty: 2})

		assert.Equal(t, "ada", c.Owner)
		assert.Equal(t, 2, c.Items["widget"])
		assert.Equal(t, int64(2), c.Version())
		assert.True(t, c.HasUncommittedEvents())
		require.Len(t, c.UncommittedEvents(), 2)
	})

	t.Run("unhandled events are buffered without a version bump", func(t *testing.T) {
		c := &cart{}

		Raise(c, &cartCreated{Owner: "ada"})
		Raise(c, &auditNoted{Note: "checked"})

		assert.Equal(t, int64(1), c.Version())
		assert.Len(t, c.UncommittedEvents(), 2)
	})

	t.Run("raising does not touch the latest observed sequence", func(t *testing.T) {
		c := &cart{}

		Raise(c, &cartCreated{Owner: "ada"})

		assert.Equal(t, int64(0), c.LatestEventSequence())
	})

	t.Run("ClearUncommittedEvents empties the buffer", func(t *testing.T) {
		c := &cart{}
		Raise(c, &cartCreated{Owner: "ada"})

		c.ClearUncommittedEvents()

		assert.False(t, c.HasUncommittedEvents())
		assert.Empty(t, c.UncommittedEvents())
		assert.Equal(t, int64(1), c.Version(), "clearing must not roll back state")
	})

	t.Run("UncommittedEvents preserves raise order", func(t *testing.T) {
		c := &cart{}
		Raise(c, &cartCreated{Owner: "ada"})
		Raise(c, &cartItemAdded{SKU: "widget", Qty: 1})
		Raise(c, &cartCleared{})

		events := c.UncommittedEvents()

		require.Len(t, events, 3)
		assert.IsType(t, &cartCreated{}, events[0])
		assert.IsType(t, &cartItemAdded{}, events[1])
		assert.IsType(t, &cartCleared{}, events[2])
	})
}

func TestApplyCommitted(t *testing.T) {
	t.Run("handled events advance version and sequence", func(t *testing.T) {
		c := &cart{}

		handled := applyCommitted(c, &cartCreated{Owner: "ada"}, 1)

		assert.True(t, handled)
		assert.Equal(t, int64(1), c.Version())
		assert.Equal(t, int64(1), c.LatestEventSequence())
	})

	t.Run("unhandled events advance only the sequence", func(t *testing.T) {
		c := &cart{}
		applyCommitted(c, &cartCreated{Owner: "ada"}, 1)

		handled := applyCommitted(c, &auditNoted{Note: "checked"}, 2)

		assert.False(t, handled)
		assert.Equal(t, int64(1), c.Version())
		assert.Equal(t, int64(2), c.LatestEventSequence())
	})

	t.Run("sequence never moves backwards", func(t *testing.T) {
		c := &cart{}
		applyCommitted(c, &cartCreated{Owner: "ada"}, 5)

		applyCommitted(c, &cartItemAdded{SKU: "widget", Qty: 1}, 3)

		assert.Equal(t, int64(5), c.LatestEventSequence())
	})

	t.Run("committed events never enter the uncommitted buffer", func(t *testing.T) {
		c := &cart{}

		applyCommitted(c, &cartCreated{Owner: "ada"}, 1)

		assert.False(t, c.HasUncommittedEvents())
	})
}

func TestHandlesEventType(t *testing.T) {
	t.Run("empty filter admits every type", func(t *testing.T) {
		c := &cart{}

		assert.True(t, HandlesEventType(c, NewBinding("CartCreated", 1)))
		assert.True(t, HandlesEventType(c, NewBinding("SomethingElse", 9)))
	})

	t.Run("filter admits listed bindings only", func(t *testing.T) {
		counter := &itemCounter{}

		assert.True(t, HandlesEventType(counter, NewBinding("CartItemAdded", 1)))
		assert.False(t, HandlesEventType(counter, NewBinding("CartCreated", 1)))
		assert.False(t, HandlesEventType(counter, NewBinding("CartItemAdded", 2)))
	})
}

func TestAggregateBaseDefaults(t *testing.T) {
	c := &cart{}

	assert.Equal(t, int64(0), c.Version())
	assert.Equal(t, int64(0), c.LatestEventSequence())
	assert.Empty(t, c.StreamID())
	assert.Empty(t, c.AggregateID())
	assert.Nil(t, c.EventTypeFilter())
}
