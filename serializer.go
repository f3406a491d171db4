package strand

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/strandhq/strand/adapters"
)

// Codec handles payload serialization and deserialization.
// Implementations must tolerate structural evolution: decoding into a type
// whose fields differ from what was encoded ignores unknown fields and leaves
// missing ones at their zero values.
type Codec interface {
	// Marshal converts a value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal populates v (a pointer) from bytes.
	Unmarshal(data []byte, v interface{}) error
}

// JSONCodec is the default Codec implementation using JSON encoding.
// encoding/json naturally ignores unknown fields, which gives the required
// schema-evolution tolerance.
type JSONCodec struct{}

// NewJSONCodec creates a new JSONCodec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Marshal converts a value to JSON bytes.
func (c *JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal populates v from JSON bytes.
func (c *JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// EncodeEvent serializes an event into its storage record, stamping stream,
// sequence, derived ID, and audit fields.
func EncodeEvent(codec Codec, streamID string, sequence int64, event Event, createdAt time.Time, createdBy string) (adapters.EventRecord, error) {
	if event == nil {
		return adapters.EventRecord{}, NewSerializationError("", "encode", fmt.Errorf("event cannot be nil"))
	}

	binding := event.EventBinding()
	if err := binding.Validate(); err != nil {
		return adapters.EventRecord{}, NewSerializationError(binding.Key(), "encode", err)
	}

	payload, err := codec.Marshal(event)
	if err != nil {
		return adapters.EventRecord{}, NewSerializationError(binding.Key(), "encode", err)
	}

	return adapters.EventRecord{
		ID:        adapters.EventID(streamID, sequence),
		StreamID:  streamID,
		Sequence:  sequence,
		TypeKey:   binding.Key(),
		Payload:   payload,
		CreatedAt: createdAt,
		CreatedBy: createdBy,
	}, nil
}

// DecodeEvent resolves a stored record's type key through the registry and
// deserializes the payload into the concrete event type.
// Returns a *TypeNotRegisteredError when the key has no registry entry.
func DecodeEvent(codec Codec, registry *Registry, record adapters.EventRecord) (Event, error) {
	event, err := registry.NewEvent(record.TypeKey)
	if err != nil {
		return nil, err
	}

	if err := codec.Unmarshal(record.Payload, event); err != nil {
		return nil, NewSerializationError(record.TypeKey, "decode", err)
	}

	return event, nil
}

// EncodeSnapshot serializes an aggregate's business state into its snapshot
// record. The runtime bookkeeping fields are unexported on AggregateBase, so
// they never reach the payload; they are stored as record columns instead.
func EncodeSnapshot(codec Codec, agg Aggregate, createdAt time.Time, createdBy string, updatedAt time.Time, updatedBy string) (adapters.SnapshotRecord, error) {
	if agg == nil {
		return adapters.SnapshotRecord{}, ErrNilAggregate
	}

	binding := agg.AggregateBinding()
	payload, err := codec.Marshal(agg)
	if err != nil {
		return adapters.SnapshotRecord{}, NewSerializationError(binding.Key(), "encode", err)
	}

	return adapters.SnapshotRecord{
		AggregateID:         agg.AggregateID(),
		StreamID:            agg.StreamID(),
		TypeKey:             binding.Key(),
		Version:             agg.Version(),
		LatestEventSequence: agg.LatestEventSequence(),
		Payload:             payload,
		CreatedAt:           createdAt,
		CreatedBy:           createdBy,
		UpdatedAt:           updatedAt,
		UpdatedBy:           updatedBy,
	}, nil
}

// DecodeSnapshot reconstructs an aggregate from its snapshot record: the type
// key resolves through the registry, the payload populates the business
// state, and the bookkeeping columns overlay the runtime afterwards.
func DecodeSnapshot(codec Codec, registry *Registry, record adapters.SnapshotRecord) (Aggregate, error) {
	agg, err := registry.NewAggregate(record.TypeKey)
	if err != nil {
		return nil, err
	}

	if err := codec.Unmarshal(record.Payload, agg); err != nil {
		return nil, NewSerializationError(record.TypeKey, "decode", err)
	}

	rt := agg.runtime()
	rt.setIdentity(record.StreamID, record.AggregateID)
	rt.version = record.Version
	rt.latestEventSequence = record.LatestEventSequence

	return agg, nil
}
