package msgpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	OrderID  string `msgpack:"orderId"`
	Customer string `msgpack:"customer"`
	Amount   int64  `msgpack:"amount"`
}

func TestCodec(t *testing.T) {
	codec := NewCodec()

	t.Run("round-trips a struct", func(t *testing.T) {
		original := orderPlaced{OrderID: "order-1", Customer: "ada", Amount: 4200}

		data, err := codec.Marshal(original)
		require.NoError(t, err)
		require.NotEmpty(t, data)

		var decoded orderPlaced
		require.NoError(t, codec.Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
	})

	t.Run("decoding tolerates removed fields", func(t *testing.T) {
		data, err := codec.Marshal(orderPlaced{OrderID: "order-1", Customer: "ada", Amount: 1})
		require.NoError(t, err)

		var slim struct {
			OrderID string `msgpack:"orderId"`
		}
		require.NoError(t, codec.Unmarshal(data, &slim))
		assert.Equal(t, "order-1", slim.OrderID)
	})

	t.Run("decoding leaves missing fields at zero", func(t *testing.T) {
		data, err := codec.Marshal(struct {
			OrderID string `msgpack:"orderId"`
		}{OrderID: "order-1"})
		require.NoError(t, err)

		var decoded orderPlaced
		require.NoError(t, codec.Unmarshal(data, &decoded))
		assert.Equal(t, "order-1", decoded.OrderID)
		assert.Empty(t, decoded.Customer)
		assert.Zero(t, decoded.Amount)
	})

	t.Run("rejects nil values", func(t *testing.T) {
		_, err := codec.Marshal(nil)
		assert.Error(t, err)
	})

	t.Run("rejects empty payloads", func(t *testing.T) {
		var decoded orderPlaced
		assert.Error(t, codec.Unmarshal(nil, &decoded))
	})
}
