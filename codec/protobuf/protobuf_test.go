package protobuf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestCodec(t *testing.T) {
	codec := NewCodec()

	t.Run("round-trips a proto message", func(t *testing.T) {
		original := timestamppb.New(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))

		data, err := codec.Marshal(original)
		require.NoError(t, err)

		decoded := &timestamppb.Timestamp{}
		require.NoError(t, codec.Unmarshal(data, decoded))
		assert.Equal(t, original.AsTime(), decoded.AsTime())
	})

	t.Run("an empty payload decodes to defaults", func(t *testing.T) {
		decoded := wrapperspb.String("preset")

		require.NoError(t, codec.Unmarshal(nil, decoded))
		assert.Equal(t, "preset", decoded.GetValue(), "unmarshal merges, empty data changes nothing")
	})

	t.Run("rejects nil values", func(t *testing.T) {
		_, err := codec.Marshal(nil)
		assert.ErrorIs(t, err, ErrNilValue)
	})

	t.Run("rejects values that are not proto messages", func(t *testing.T) {
		_, err := codec.Marshal(struct{ Name string }{Name: "x"})
		assert.ErrorIs(t, err, ErrNotProtoMessage)

		err = codec.Unmarshal([]byte{}, &struct{ Name string }{})
		assert.ErrorIs(t, err, ErrNotProtoMessage)
	})
}
