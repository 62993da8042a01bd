package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/libs/serializer"
	"github.com/maidsafe/antstore/internal/sentinel"
)

// RecordKind tags the payload type of a stored value. It is encoded as a
// fixed 2-byte big-endian integer and is always the first bytes of a record
// value. The numeric values are wire-visible and must not change.
type RecordKind uint16

const (
	// KindChunkRecord is an immutable content chunk.
	KindChunkRecord RecordKind = iota
	// KindChunkWithPayment is a chunk carrying a proof of payment.
	KindChunkWithPayment
	// KindSpendRecord is a value-transfer record.
	KindSpendRecord
	// KindRegisterRecord is a CRDT register state.
	KindRegisterRecord
	// KindRegisterWithPayment is a register carrying a proof of payment.
	KindRegisterWithPayment
)

// HeaderLen is the byte length of the record header.
const HeaderLen = 2

// WithPayment reports whether values of this kind embed a proof of payment
// ahead of the domain payload.
func (k RecordKind) WithPayment() bool {
	return k == KindChunkWithPayment || k == KindRegisterWithPayment
}

// IsChunk reports whether the kind carries chunk content.
func (k RecordKind) IsChunk() bool {
	return k == KindChunkRecord || k == KindChunkWithPayment
}

// IsRegister reports whether the kind carries register state.
func (k RecordKind) IsRegister() bool {
	return k == KindRegisterRecord || k == KindRegisterWithPayment
}

// String implements fmt.Stringer.
func (k RecordKind) String() string {
	switch k {
	case KindChunkRecord:
		return "Chunk"
	case KindChunkWithPayment:
		return "ChunkWithPayment"
	case KindSpendRecord:
		return "Spend"
	case KindRegisterRecord:
		return "Register"
	case KindRegisterWithPayment:
		return "RegisterWithPayment"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint16(k))
	}
}

func (k RecordKind) valid() bool {
	return k <= KindRegisterWithPayment
}

// Record is the unit of storage and replication. Value is always the 2-byte
// header followed by the MessagePack payload. Records are immutable once
// accepted into a store; an update is a new value at the same key.
type Record struct {
	Key       NetworkAddress
	Value     []byte
	Publisher []byte
	Expiry    time.Time
}

// Kind decodes the record header.
func (r Record) Kind() (RecordKind, error) {
	return KindOfValue(r.Value)
}

// Payload returns the serialized payload past the header.
func (r Record) Payload() ([]byte, error) {
	if len(r.Value) < HeaderLen {
		return nil, ewrap.Wrap(sentinel.ErrInvalidHeader, "value shorter than header")
	}

	return r.Value[HeaderLen:], nil
}

// KindOfValue decodes the leading header of a record value.
func KindOfValue(value []byte) (RecordKind, error) {
	if len(value) < HeaderLen {
		return 0, ewrap.Wrap(sentinel.ErrInvalidHeader, "value shorter than header")
	}

	kind := RecordKind(binary.BigEndian.Uint16(value[:HeaderLen]))
	if !kind.valid() {
		return 0, ewrap.Wrap(sentinel.ErrInvalidHeader, kind.String())
	}

	return kind, nil
}

// MarshalRecordValue serializes a payload behind its kind header, producing
// the bit-exact wire form `header ++ msgpack(payload)`.
func MarshalRecordValue(kind RecordKind, payload any) ([]byte, error) {
	ser, err := serializer.New("msgpack")
	if err != nil {
		return nil, err
	}

	body, err := ser.Marshal(payload)
	if err != nil {
		return nil, err
	}

	value := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(value[:HeaderLen], uint16(kind))
	copy(value[HeaderLen:], body)

	return value, nil
}

// UnmarshalRecordValue decodes a record value into payload, returning the
// kind found in the header.
func UnmarshalRecordValue(value []byte, payload any) (RecordKind, error) {
	kind, err := KindOfValue(value)
	if err != nil {
		return 0, err
	}

	ser, err := serializer.New("msgpack")
	if err != nil {
		return 0, err
	}

	err = ser.Unmarshal(value[HeaderLen:], payload)
	if err != nil {
		return kind, ewrap.Wrap(sentinel.ErrStoreCorrupt, err.Error())
	}

	return kind, nil
}

// RecordType classifies a stored record for replication bookkeeping. Chunks
// are addressed by their content; registers and spends are tracked by a hash
// of their body since the same key can hold multiple valid concurrent values.
type RecordType struct {
	Chunk       bool
	ContentHash [NameLen]byte
}

// ChunkType is the RecordType of chunk records.
func ChunkType() RecordType {
	return RecordType{Chunk: true}
}

// NonChunkType derives the RecordType of a non-chunk record from its value.
func NonChunkType(value []byte) RecordType {
	return RecordType{ContentHash: sha256.Sum256(value)}
}

// TypeOfRecord derives the RecordType for a record value.
func TypeOfRecord(value []byte) (RecordType, error) {
	kind, err := KindOfValue(value)
	if err != nil {
		return RecordType{}, err
	}

	if kind.IsChunk() {
		return ChunkType(), nil
	}

	return NonChunkType(value), nil
}

// ChunkProofAnswer computes the storage-challenge answer a holder returns
// when asked to prove possession of content without shipping it back.
func ChunkProofAnswer(content, nonce []byte) [NameLen]byte {
	h := sha256.New()
	h.Write(content)
	h.Write(nonce)

	var out [NameLen]byte
	copy(out[:], h.Sum(nil))

	return out
}
