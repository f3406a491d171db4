// Package protobuf provides a Protocol Buffers codec for strand payloads.
//
// Only values that implement proto.Message can pass through this codec, so
// it suits deployments whose event and aggregate types are generated from
// .proto definitions. Unknown fields are preserved through decode, and
// fields absent from the wire data stay at their zero values.
//
// Basic usage:
//
//	svc := strand.NewService(store, registry,
//		strand.WithCodec(protobuf.NewCodec()),
//	)
package protobuf

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

var (
	// ErrNilValue indicates an attempt to marshal a nil value.
	ErrNilValue = errors.New("strand/protobuf: cannot marshal nil value")

	// ErrNotProtoMessage indicates the value does not implement proto.Message.
	ErrNotProtoMessage = errors.New("strand/protobuf: value must implement proto.Message")
)

// Codec is a Protocol Buffers implementation of strand.Codec.
type Codec struct{}

// NewCodec creates a new Protocol Buffers codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Marshal converts a proto.Message to its binary wire format.
func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(msg)
}

// Unmarshal populates a proto.Message from its binary wire format.
// An empty payload is valid: it decodes to a message with all default values.
func (c *Codec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w, got %T", ErrNotProtoMessage, v)
	}
	return proto.Unmarshal(data, msg)
}
