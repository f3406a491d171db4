// Package msgpack provides a MessagePack codec for strand payloads.
//
// MessagePack is a binary serialization format that produces smaller payloads
// than JSON while keeping similar flexibility. Decoding ignores unknown
// fields and leaves missing ones at their zero values, which satisfies the
// codec contract's schema-evolution tolerance.
//
// Basic usage:
//
//	svc := strand.NewService(store, registry,
//		strand.WithCodec(msgpack.NewCodec()),
//	)
package msgpack

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec is a MessagePack implementation of strand.Codec.
type Codec struct{}

// NewCodec creates a new MessagePack codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Marshal converts a value to MessagePack bytes.
func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("strand/msgpack: cannot marshal nil value")
	}
	return msgpack.Marshal(v)
}

// Unmarshal populates v from MessagePack bytes.
func (c *Codec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("strand/msgpack: cannot unmarshal empty data")
	}
	return msgpack.Unmarshal(data, v)
}
