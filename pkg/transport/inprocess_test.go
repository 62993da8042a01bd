package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/store"
)

func chunkRecord(t *testing.T, content string) protocol.Record {
	t.Helper()

	value, err := protocol.MarshalRecordValue(protocol.KindChunkRecord, []byte(content))
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}

	return protocol.Record{Key: protocol.ChunkAddress([]byte(content)), Value: value}
}

func TestInProcessRecordExchange(t *testing.T) {
	ctx := context.Background()
	network := NewInProcessNetwork()

	a := network.Join("peer-a", store.NewClientStore())
	network.Join("peer-b", store.NewClientStore())

	record := chunkRecord(t, "exchange me")

	if err := a.PutRecord(ctx, "peer-b", record); err != nil {
		t.Fatalf("put record: %v", err)
	}

	got, err := a.GetRecord(ctx, "peer-b", record.Key)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}

	if string(got.Value) != string(record.Value) {
		t.Fatal("value mismatch after exchange")
	}

	proof, err := a.ChunkProofChallenge(ctx, "peer-b", record.Key, []byte("nonce"))
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}

	if proof != protocol.ChunkProofAnswer(record.Value, []byte("nonce")) {
		t.Fatal("proof answer mismatch")
	}
}

func TestInProcessPartition(t *testing.T) {
	ctx := context.Background()
	network := NewInProcessNetwork()

	a := network.Join("peer-a", store.NewClientStore())
	network.Join("peer-b", store.NewClientStore())

	a.Partition("peer-b")

	_, err := a.GetRecord(ctx, "peer-b", protocol.ChunkAddress([]byte("x")))
	if !errors.Is(err, sentinel.ErrSubstrateUnavailable) {
		t.Fatalf("expected ErrSubstrateUnavailable, got %v", err)
	}

	a.Heal("peer-b")

	_, err = a.GetRecord(ctx, "peer-b", protocol.ChunkAddress([]byte("x")))
	if !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after heal, got %v", err)
	}
}

func TestInProcessClosestPeersOrdering(t *testing.T) {
	ctx := context.Background()
	network := NewInProcessNetwork()

	var first *InProcessSubstrate

	for i := 0; i < 12; i++ {
		sub := network.Join(PeerID(fmt.Sprintf("peer-%d", i)), store.NewClientStore())
		if first == nil {
			first = sub
		}
	}

	key := protocol.ChunkAddress([]byte("target"))

	peers, err := first.GetClosestPeers(ctx, key)
	if err != nil {
		t.Fatalf("closest peers: %v", err)
	}

	if len(peers) != 8 {
		t.Fatalf("expected close group of 8, got %d", len(peers))
	}

	for i := 1; i < len(peers); i++ {
		prev := key.Distance(peers[i-1].Address())
		cur := key.Distance(peers[i].Address())

		if prev.Cmp(cur) > 0 {
			t.Fatal("closest peers must be sorted by distance")
		}
	}
}

func TestInProcessEvents(t *testing.T) {
	network := NewInProcessNetwork()

	a := network.Join("peer-a", store.NewClientStore())
	network.Join("peer-b", store.NewClientStore())

	select {
	case event := <-a.Events():
		if event.Kind != EventPeerConnected || event.Peer != "peer-b" {
			t.Fatalf("unexpected event %+v", event)
		}
	default:
		t.Fatal("expected a connected event for peer-b")
	}

	network.Leave("peer-b")

	select {
	case event := <-a.Events():
		if event.Kind != EventPeerDisconnected || event.Peer != "peer-b" {
			t.Fatalf("unexpected event %+v", event)
		}
	default:
		t.Fatal("expected a disconnected event for peer-b")
	}
}

func TestInProcessReplicateEvent(t *testing.T) {
	ctx := context.Background()
	network := NewInProcessNetwork()

	a := network.Join("peer-a", store.NewClientStore())
	b := network.Join("peer-b", store.NewClientStore())

	addresses := []ReplicatedAddress{
		{Address: protocol.ChunkAddress([]byte("x")), Type: protocol.ChunkType()},
	}

	if err := a.SendReplicate(ctx, "peer-b", addresses); err != nil {
		t.Fatalf("send replicate: %v", err)
	}

	// Drain the connect event first.
	for {
		select {
		case event := <-b.Events():
			if event.Kind != EventReplicateReceived {
				continue
			}

			if event.Peer != "peer-a" || len(event.Addresses) != 1 {
				t.Fatalf("unexpected replicate event %+v", event)
			}

			return
		default:
			t.Fatal("expected a replicate event")
		}
	}
}
