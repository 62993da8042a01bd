// Package transport defines the DHT substrate surface this layer consumes:
// closest-peer queries, record exchange with specific peers, replicate
// events, and connectivity notifications. The routing table, NAT traversal
// and the wire codec all live behind this interface.
package transport

import (
	"context"

	"github.com/maidsafe/antstore/pkg/protocol"
)

// PeerID identifies a peer on the substrate.
type PeerID string

// Address maps the peer id into the shared address space.
func (p PeerID) Address() protocol.NetworkAddress {
	return protocol.PeerAddress([]byte(p))
}

// ReplicatedAddress is one entry of a replicate event: an address and the
// replication type of the record held there.
type ReplicatedAddress struct {
	Address protocol.NetworkAddress
	Type    protocol.RecordType
}

// EventKind discriminates substrate events.
type EventKind uint8

const (
	// EventPeerConnected signals a peer joined the routing table.
	EventPeerConnected EventKind = iota
	// EventPeerDisconnected signals a peer left the routing table.
	EventPeerDisconnected
	// EventReplicateReceived signals a peer offered a list of addresses it
	// holds.
	EventReplicateReceived
)

// Event is a substrate-level notification.
type Event struct {
	Kind      EventKind
	Peer      PeerID
	Addresses []ReplicatedAddress
}

// Substrate is the DHT layer the policy engine and churn controller talk to.
type Substrate interface {
	// SelfID returns this process's peer id.
	SelfID() PeerID

	// GetClosestPeers issues a network query for the peers closest to key.
	GetClosestPeers(ctx context.Context, key protocol.NetworkAddress) ([]PeerID, error)

	// LocalClosestPeers returns the routing table's own view of the peers
	// closest to key, without touching the network.
	LocalClosestPeers(key protocol.NetworkAddress) []PeerID

	// GetRecord fetches the record at key from a specific peer.
	GetRecord(ctx context.Context, peer PeerID, key protocol.NetworkAddress) (protocol.Record, error)

	// PutRecord sends a record to a specific peer for storage.
	PutRecord(ctx context.Context, peer PeerID, record protocol.Record) error

	// ChunkProofChallenge asks a peer to prove possession of the record at
	// key by hashing its bytes with the caller's nonce.
	ChunkProofChallenge(ctx context.Context, peer PeerID, key protocol.NetworkAddress, nonce []byte) ([protocol.NameLen]byte, error)

	// SendReplicate offers a list of held addresses to a peer,
	// fire-and-forget.
	SendReplicate(ctx context.Context, peer PeerID, addresses []ReplicatedAddress) error

	// Events streams connectivity and replicate notifications.
	Events() <-chan Event
}
