package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/constants"
	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/store"
)

// eventBufferSize bounds the per-node event queue. Events beyond it are
// dropped, matching the lossy nature of connectivity notifications.
const eventBufferSize = 64

// InProcessNetwork wires InProcessSubstrate nodes together in one process.
// Tests use it in place of a live DHT; partitions are injected per node.
type InProcessNetwork struct {
	mu    sync.Mutex
	nodes map[PeerID]*InProcessSubstrate
}

// NewInProcessNetwork creates an empty network.
func NewInProcessNetwork() *InProcessNetwork {
	return &InProcessNetwork{nodes: make(map[PeerID]*InProcessSubstrate)}
}

// Join registers a node backed by the given store and returns its substrate.
// The store may be nil when the caller builds it afterwards; Bind must then
// run before any traffic reaches the node.
func (n *InProcessNetwork) Join(id PeerID, recordStore store.RecordStore) *InProcessSubstrate {
	sub := &InProcessSubstrate{
		id:          id,
		network:     n,
		store:       recordStore,
		events:      make(chan Event, eventBufferSize),
		unreachable: make(map[PeerID]struct{}),
	}

	n.mu.Lock()
	n.nodes[id] = sub
	peers := make([]*InProcessSubstrate, 0, len(n.nodes))

	for _, other := range n.nodes {
		if other.id != id {
			peers = append(peers, other)
		}
	}
	n.mu.Unlock()

	for _, other := range peers {
		other.notify(Event{Kind: EventPeerConnected, Peer: id})
	}

	return sub
}

// Leave removes a node from the network.
func (n *InProcessNetwork) Leave(id PeerID) {
	n.mu.Lock()
	delete(n.nodes, id)
	peers := make([]*InProcessSubstrate, 0, len(n.nodes))

	for _, other := range n.nodes {
		peers = append(peers, other)
	}
	n.mu.Unlock()

	for _, other := range peers {
		other.notify(Event{Kind: EventPeerDisconnected, Peer: id})
	}
}

// lookup returns the node registered under id.
func (n *InProcessNetwork) lookup(id PeerID) (*InProcessSubstrate, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, ok := n.nodes[id]

	return sub, ok
}

// closest returns up to count registered peers sorted by distance to key.
func (n *InProcessNetwork) closest(key protocol.NetworkAddress, count int) []PeerID {
	n.mu.Lock()
	ids := make([]PeerID, 0, len(n.nodes))

	for id := range n.nodes {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool {
		return key.Distance(ids[i].Address()).Cmp(key.Distance(ids[j].Address())) < 0
	})

	if len(ids) > count {
		ids = ids[:count]
	}

	return ids
}

// InProcessSubstrate is one node's view of an InProcessNetwork.
type InProcessSubstrate struct {
	id      PeerID
	network *InProcessNetwork
	store   store.RecordStore
	events  chan Event

	mu          sync.Mutex
	unreachable map[PeerID]struct{}

	// PutHandler, when set, intercepts records other peers push to this
	// node. Nodes exercising validation set it; the default stages and
	// promotes immediately.
	PutHandler func(ctx context.Context, record protocol.Record) error
}

var _ Substrate = (*InProcessSubstrate)(nil)

// SelfID returns this node's peer id.
func (s *InProcessSubstrate) SelfID() PeerID {
	return s.id
}

// Bind sets the store this node serves reads from.
func (s *InProcessSubstrate) Bind(recordStore store.RecordStore) {
	s.store = recordStore
}

// Partition makes the given peers unreachable from this node.
func (s *InProcessSubstrate) Partition(peers ...PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range peers {
		s.unreachable[p] = struct{}{}
	}
}

// Heal restores reachability to the given peers.
func (s *InProcessSubstrate) Heal(peers ...PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range peers {
		delete(s.unreachable, p)
	}
}

func (s *InProcessSubstrate) reach(peer PeerID) (*InProcessSubstrate, error) {
	s.mu.Lock()
	_, cut := s.unreachable[peer]
	s.mu.Unlock()

	if cut {
		return nil, ewrap.Wrap(sentinel.ErrSubstrateUnavailable, string(peer))
	}

	target, ok := s.network.lookup(peer)
	if !ok {
		return nil, ewrap.Wrap(sentinel.ErrPeerNotFound, string(peer))
	}

	return target, nil
}

// GetClosestPeers returns the network-wide closest peers to key.
func (s *InProcessSubstrate) GetClosestPeers(ctx context.Context, key protocol.NetworkAddress) ([]PeerID, error) {
	if err := ctx.Err(); err != nil {
		return nil, ewrap.Wrap(sentinel.ErrTimeoutOrCanceled, err.Error())
	}

	return s.network.closest(key, constants.CloseGroupSize), nil
}

// LocalClosestPeers mirrors GetClosestPeers without the network round trip.
func (s *InProcessSubstrate) LocalClosestPeers(key protocol.NetworkAddress) []PeerID {
	return s.network.closest(key, constants.CloseGroupSize)
}

// GetRecord fetches the record at key from a specific peer.
func (s *InProcessSubstrate) GetRecord(ctx context.Context, peer PeerID, key protocol.NetworkAddress) (protocol.Record, error) {
	target, err := s.reach(peer)
	if err != nil {
		return protocol.Record{}, err
	}

	record, ok := target.store.Get(ctx, key)
	if !ok {
		return protocol.Record{}, ewrap.Wrap(sentinel.ErrNotFound, key.String())
	}

	return record, nil
}

// PutRecord delivers a record to a specific peer for storage.
func (s *InProcessSubstrate) PutRecord(ctx context.Context, peer PeerID, record protocol.Record) error {
	target, err := s.reach(peer)
	if err != nil {
		return err
	}

	if target.PutHandler != nil {
		return target.PutHandler(ctx, record)
	}

	recordType, err := protocol.TypeOfRecord(record.Value)
	if err != nil {
		return err
	}

	err = target.store.Put(ctx, record)
	if err != nil {
		return err
	}

	return target.store.MarkStored(ctx, record.Key, recordType)
}

// ChunkProofChallenge asks a peer to hash its stored bytes with a nonce.
func (s *InProcessSubstrate) ChunkProofChallenge(ctx context.Context, peer PeerID, key protocol.NetworkAddress, nonce []byte) ([protocol.NameLen]byte, error) {
	target, err := s.reach(peer)
	if err != nil {
		return [protocol.NameLen]byte{}, err
	}

	record, ok := target.store.Get(ctx, key)
	if !ok {
		return [protocol.NameLen]byte{}, ewrap.Wrap(sentinel.ErrNotFound, key.String())
	}

	return protocol.ChunkProofAnswer(record.Value, nonce), nil
}

// SendReplicate delivers a replicate event to a peer.
func (s *InProcessSubstrate) SendReplicate(_ context.Context, peer PeerID, addresses []ReplicatedAddress) error {
	target, err := s.reach(peer)
	if err != nil {
		return err
	}

	target.notify(Event{Kind: EventReplicateReceived, Peer: s.id, Addresses: addresses})

	return nil
}

// Events streams this node's notifications.
func (s *InProcessSubstrate) Events() <-chan Event {
	return s.events
}

func (s *InProcessSubstrate) notify(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
