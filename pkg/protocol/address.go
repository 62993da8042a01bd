// Package protocol defines the addressing scheme and record model shared by
// clients and nodes: 256-bit XOR-metric addresses, the typed record header,
// and the wire serialization helpers for record values.
package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/sentinel"
)

// AddressKind discriminates what a NetworkAddress names.
type AddressKind uint8

const (
	// KindChunk addresses immutable content by its hash.
	KindChunk AddressKind = iota
	// KindRegister addresses a CRDT register by its owner key.
	KindRegister
	// KindSpend addresses a value-transfer record by its unique key.
	KindSpend
	// KindPeer addresses a peer identity.
	KindPeer
)

// NameLen is the byte length of an address name.
const NameLen = 32

// NetworkAddress is an opaque key in the 256-bit address space. It is
// comparable and usable as a map key. Immutable once constructed.
type NetworkAddress struct {
	Kind AddressKind
	Name [NameLen]byte
}

// ChunkAddress names immutable content by its sha256 hash.
func ChunkAddress(content []byte) NetworkAddress {
	return NetworkAddress{Kind: KindChunk, Name: sha256.Sum256(content)}
}

// RegisterAddress derives the address of a register from its owner public key.
func RegisterAddress(ownerKey []byte) NetworkAddress {
	return NetworkAddress{Kind: KindRegister, Name: sha256.Sum256(ownerKey)}
}

// SpendAddress derives the address of a spend record from its unique public key.
func SpendAddress(uniqueKey []byte) NetworkAddress {
	return NetworkAddress{Kind: KindSpend, Name: sha256.Sum256(uniqueKey)}
}

// PeerAddress derives the address of a peer from its identifier bytes.
func PeerAddress(peerID []byte) NetworkAddress {
	return NetworkAddress{Kind: KindPeer, Name: sha256.Sum256(peerID)}
}

// AddressFromName builds an address around an already-derived 32-byte name.
func AddressFromName(kind AddressKind, name [NameLen]byte) NetworkAddress {
	return NetworkAddress{Kind: kind, Name: name}
}

// AddressFromKey reverses Key for addresses stored under their raw byte key.
// The key must be kind byte plus name.
func AddressFromKey(key []byte) (NetworkAddress, error) {
	if len(key) != 1+NameLen {
		return NetworkAddress{}, ewrap.Wrap(sentinel.ErrAddressing, fmt.Sprintf("key length %d", len(key)))
	}

	addr := NetworkAddress{Kind: AddressKind(key[0])}
	copy(addr.Name[:], key[1:])

	return addr, nil
}

// Bytes returns the canonical byte representation, kind tag plus name.
func (a NetworkAddress) Bytes() []byte {
	out := make([]byte, 1+NameLen)
	out[0] = byte(a.Kind)
	copy(out[1:], a.Name[:])

	return out
}

// Key returns the kbucket key the address occupies in the XOR metric space.
// Hashing the canonical bytes keeps semantically different entities from
// colliding even when they share a name.
func (a NetworkAddress) Key() [NameLen]byte {
	return sha256.Sum256(a.Bytes())
}

// Distance returns the XOR distance between two addresses.
func (a NetworkAddress) Distance(other NetworkAddress) Distance {
	var d Distance

	ka, kb := a.Key(), other.Key()
	for i := range d {
		d[i] = ka[i] ^ kb[i]
	}

	return d
}

// String renders the address as kind/hex for logs.
func (a NetworkAddress) String() string {
	return fmt.Sprintf("%s/%s", a.Kind, hex.EncodeToString(a.Name[:8]))
}

// HexName returns the full hex encoding of the name, used as the on-disk
// file name by the node store.
func (a NetworkAddress) HexName() string {
	return hex.EncodeToString(a.Bytes())
}

// AddressFromHexName reverses HexName.
func AddressFromHexName(name string) (NetworkAddress, error) {
	raw, err := hex.DecodeString(name)
	if err != nil {
		return NetworkAddress{}, ewrap.Wrap(sentinel.ErrAddressing, name)
	}

	return AddressFromKey(raw)
}

// String implements fmt.Stringer for the kind tag.
func (k AddressKind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindRegister:
		return "register"
	case KindSpend:
		return "spend"
	case KindPeer:
		return "peer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Distance is a 256-bit XOR distance between two keys.
type Distance [NameLen]byte

// KeyDistance returns the XOR distance between two raw kbucket keys.
func KeyDistance(a, b [NameLen]byte) Distance {
	var d Distance

	for i := range d {
		d[i] = a[i] ^ b[i]
	}

	return d
}

// Cmp compares two distances, returning -1, 0 or 1.
func (d Distance) Cmp(other Distance) int {
	for i := range d {
		switch {
		case d[i] < other[i]:
			return -1
		case d[i] > other[i]:
			return 1
		}
	}

	return 0
}

// IsZero reports whether the distance is exactly zero.
func (d Distance) IsZero() bool {
	for _, b := range d {
		if b != 0 {
			return false
		}
	}

	return true
}

// ILog2 returns the position of the highest set bit, or -1 for the zero
// distance. Equivalently 255 minus the common prefix length.
func (d Distance) ILog2() int {
	for i, b := range d {
		if b != 0 {
			return (NameLen-1-i)*8 + bits.Len8(b) - 1
		}
	}

	return -1
}

// CommonPrefixLen returns the number of leading zero bits of the distance,
// which is the number of leading bits the two keys share.
func (d Distance) CommonPrefixLen() int {
	for i, b := range d {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}

	return NameLen * 8
}

// Float converts the distance to a float64 fraction of the full key space,
// in [0, 1). Only the top 64 bits contribute, which is ample precision for
// the statistical estimates consuming it.
func (d Distance) Float() float64 {
	top := binary.BigEndian.Uint64(d[:8])

	return float64(top) / float64(1<<63) / 2
}
