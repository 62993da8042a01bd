// Package register implements a minimal CRDT register: an owner key plus a
// grow-only set of operations. Concurrent writers legitimately produce
// different serializations of the same logical state, so equality is defined
// over the root state (owner and operation set), never over bytes.
package register

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/protocol"
)

// Op is a single register operation. Parents reference the hashes of the
// operations this one succeeds, forming the merge DAG.
type Op struct {
	Actor   []byte   `msgpack:"actor"`
	Value   []byte   `msgpack:"value"`
	Parents [][]byte `msgpack:"parents"`
}

// Hash identifies the operation by content.
func (o Op) Hash() [32]byte {
	h := sha256.New()
	h.Write(o.Actor)
	h.Write(o.Value)

	for _, p := range o.Parents {
		h.Write(p)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}

// Register is the CRDT state. Ops order is a serialization artifact and
// carries no meaning.
type Register struct {
	Owner []byte `msgpack:"owner"`
	Ops   []Op   `msgpack:"ops"`
}

// New creates an empty register owned by the given key.
func New(owner []byte) *Register {
	return &Register{Owner: owner}
}

// Address derives the network address the register lives at.
func (r *Register) Address() protocol.NetworkAddress {
	return protocol.RegisterAddress(r.Owner)
}

// Write appends an operation authored by actor, citing the current heads as
// parents.
func (r *Register) Write(actor, value []byte) Op {
	op := Op{Actor: actor, Value: value, Parents: r.heads()}
	r.Ops = append(r.Ops, op)

	return op
}

// Merge folds the operations of other into r. Operations already present are
// skipped; ownership must match.
func (r *Register) Merge(other *Register) error {
	if !bytes.Equal(r.Owner, other.Owner) {
		return ewrap.Wrap(sentinel.ErrVerificationFailed, "register owner mismatch")
	}

	seen := make(map[[32]byte]struct{}, len(r.Ops))
	for _, op := range r.Ops {
		seen[op.Hash()] = struct{}{}
	}

	for _, op := range other.Ops {
		if _, ok := seen[op.Hash()]; ok {
			continue
		}

		seen[op.Hash()] = struct{}{}
		r.Ops = append(r.Ops, op)
	}

	return nil
}

// RootHash digests the owner and the operation set, independent of the order
// the operations were recorded or serialized in.
func (r *Register) RootHash() [32]byte {
	hashes := make([][32]byte, 0, len(r.Ops))
	for _, op := range r.Ops {
		hashes = append(hashes, op.Hash())
	}

	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})

	h := sha256.New()
	h.Write(r.Owner)

	for _, oh := range hashes {
		h.Write(oh[:])
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))

	return out
}

// Equivalent reports whether two registers share the same root state.
func Equivalent(a, b *Register) bool {
	return a.RootHash() == b.RootHash()
}

// Subsumes reports whether a carries every operation of b under the same
// owner. Extra branches in a do not break subsumption, which is what makes
// CRDT-tolerant verification ignore concurrent writers.
func Subsumes(a, b *Register) bool {
	if !bytes.Equal(a.Owner, b.Owner) {
		return false
	}

	have := make(map[[32]byte]struct{}, len(a.Ops))
	for _, op := range a.Ops {
		have[op.Hash()] = struct{}{}
	}

	for _, op := range b.Ops {
		if _, ok := have[op.Hash()]; !ok {
			return false
		}
	}

	return true
}

// heads returns the hashes of operations no other operation cites as parent.
func (r *Register) heads() [][]byte {
	cited := make(map[[32]byte]struct{})

	for _, op := range r.Ops {
		for _, p := range op.Parents {
			var key [32]byte
			copy(key[:], p)
			cited[key] = struct{}{}
		}
	}

	var heads [][]byte

	for _, op := range r.Ops {
		h := op.Hash()
		if _, ok := cited[h]; !ok {
			heads = append(heads, h[:])
		}
	}

	return heads
}

// MarshalValue serializes the register as a record value under the given
// kind, which must be one of the register kinds.
func (r *Register) MarshalValue(kind protocol.RecordKind) ([]byte, error) {
	if !kind.IsRegister() {
		return nil, ewrap.Wrap(sentinel.ErrInvalidHeader, kind.String())
	}

	return protocol.MarshalRecordValue(kind, r)
}

// FromValue decodes a register record value.
func FromValue(value []byte) (*Register, error) {
	var reg Register

	kind, err := protocol.UnmarshalRecordValue(value, &reg)
	if err != nil {
		return nil, err
	}

	if !kind.IsRegister() {
		return nil, ewrap.Wrap(sentinel.ErrInvalidHeader, kind.String())
	}

	return &reg, nil
}

// RootOfValue decodes a register record value and returns its root hash.
// Used by CRDT-tolerant verification to compare states without caring about
// serialization order.
func RootOfValue(value []byte) ([32]byte, error) {
	reg, err := FromValue(value)
	if err != nil {
		return [32]byte{}, err
	}

	return reg.RootHash(), nil
}
