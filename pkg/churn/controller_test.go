package churn

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/store"
	"github.com/maidsafe/antstore/pkg/transport"
)

func chunkRecord(t *testing.T, content string) protocol.Record {
	t.Helper()

	value, err := protocol.MarshalRecordValue(protocol.KindChunkRecord, []byte(content))
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}

	return protocol.Record{Key: protocol.ChunkAddress([]byte(content)), Value: value}
}

func holdChunk(t *testing.T, s store.RecordStore, record protocol.Record) {
	t.Helper()

	if err := s.PutVerified(context.Background(), record, protocol.ChunkType()); err != nil {
		t.Fatalf("hold chunk: %v", err)
	}
}

// collectReplicates drains replicate events from a substrate for up to the
// given window.
func collectReplicates(sub *transport.InProcessSubstrate, window time.Duration) []transport.Event {
	deadline := time.After(window)

	var out []transport.Event

	for {
		select {
		case event := <-sub.Events():
			if event.Kind == transport.EventReplicateReceived {
				out = append(out, event)
			}
		case <-deadline:
			return out
		}
	}
}

func TestScanPushesOnlyToNewcomers(t *testing.T) {
	ctx := context.Background()
	network := transport.NewInProcessNetwork()

	selfStore := store.NewClientStore()
	self := network.Join("self", selfStore)

	a := network.Join("peer-a", store.NewClientStore())
	b := network.Join("peer-b", store.NewClientStore())
	c := network.Join("peer-c", store.NewClientStore())

	x := chunkRecord(t, "record x")
	y := chunkRecord(t, "record y")
	holdChunk(t, selfStore, x)
	holdChunk(t, selfStore, y)

	fetcher := NewFetcher(self, selfStore, nil, nil)
	controller := NewController(self, selfStore, fetcher, DefaultControllerConfig(), nil, nil)

	// Baseline observation: the group is {A, B}.
	controller.Scan(ctx, []transport.PeerID{"peer-a", "peer-b"})

	// Drain the pushes triggered by the baseline scan itself.
	collectReplicates(a, 300*time.Millisecond)
	collectReplicates(b, 100*time.Millisecond)

	// C joins the observed group.
	controller.Scan(ctx, []transport.PeerID{"peer-a", "peer-b", "peer-c"})

	got := collectReplicates(c, 500*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("expected exactly one push to the newcomer, got %d", len(got))
	}

	if len(got[0].Addresses) != 2 {
		t.Fatalf("expected both held addresses offered, got %d", len(got[0].Addresses))
	}

	offered := map[protocol.NetworkAddress]bool{}
	for _, ra := range got[0].Addresses {
		offered[ra.Address] = true
	}

	if !offered[x.Key] || !offered[y.Key] {
		t.Fatal("push must offer exactly the held chunk addresses")
	}

	if extra := collectReplicates(a, 200*time.Millisecond); len(extra) != 0 {
		t.Fatalf("already-known peer received %d pushes", len(extra))
	}

	if extra := collectReplicates(b, 100*time.Millisecond); len(extra) != 0 {
		t.Fatalf("already-known peer received %d pushes", len(extra))
	}
}

func TestScanSkipsNonChunkRecords(t *testing.T) {
	ctx := context.Background()
	network := transport.NewInProcessNetwork()

	selfStore := store.NewClientStore()
	self := network.Join("self", selfStore)
	c := network.Join("peer-c", store.NewClientStore())

	chunk := chunkRecord(t, "a chunk")
	holdChunk(t, selfStore, chunk)

	regValue, err := protocol.MarshalRecordValue(protocol.KindRegisterRecord, []byte("reg"))
	if err != nil {
		t.Fatalf("marshal register: %v", err)
	}

	reg := protocol.Record{Key: protocol.RegisterAddress([]byte("owner")), Value: regValue}
	if err := selfStore.PutVerified(ctx, reg, protocol.NonChunkType(regValue)); err != nil {
		t.Fatalf("hold register: %v", err)
	}

	fetcher := NewFetcher(self, selfStore, nil, nil)
	controller := NewController(self, selfStore, fetcher, DefaultControllerConfig(), nil, nil)

	controller.Scan(ctx, []transport.PeerID{"peer-c"})

	got := collectReplicates(c, 500*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("expected one push, got %d", len(got))
	}

	if len(got[0].Addresses) != 1 || got[0].Addresses[0].Address != chunk.Key {
		t.Fatal("push must offer chunk addresses only")
	}
}

func TestScanBatchesLargePushes(t *testing.T) {
	ctx := context.Background()
	network := transport.NewInProcessNetwork()

	selfStore := store.NewClientStore()
	self := network.Join("self", selfStore)
	c := network.Join("peer-c", store.NewClientStore())

	for i := 0; i < 7; i++ {
		holdChunk(t, selfStore, chunkRecord(t, string(rune('a'+i))))
	}

	cfg := DefaultControllerConfig()
	cfg.BatchSize = 3

	fetcher := NewFetcher(self, selfStore, nil, nil)
	controller := NewController(self, selfStore, fetcher, cfg, nil, nil)

	controller.Scan(ctx, []transport.PeerID{"peer-c"})

	got := collectReplicates(c, 500*time.Millisecond)
	if len(got) != 3 {
		t.Fatalf("expected 7 addresses in 3 batches, got %d events", len(got))
	}

	total := 0
	for _, event := range got {
		if len(event.Addresses) > 3 {
			t.Fatalf("batch exceeds cap: %d", len(event.Addresses))
		}

		total += len(event.Addresses)
	}

	if total != 7 {
		t.Fatalf("expected 7 offered addresses, got %d", total)
	}
}

func TestReplicateEventFeedsFetcher(t *testing.T) {
	network := transport.NewInProcessNetwork()

	selfStore := store.NewClientStore()
	self := network.Join("self", selfStore)

	holderStore := store.NewClientStore()
	holder := network.Join("holder", holderStore)

	record := chunkRecord(t, "offered record")
	holdChunk(t, holderStore, record)

	fetcher := NewFetcher(self, selfStore, nil, nil)
	controller := NewController(self, selfStore, fetcher, DefaultControllerConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		controller.Run(ctx)
		close(done)
	}()

	if err := holder.SendReplicate(ctx, "self", []transport.ReplicatedAddress{
		{Address: record.Key, Type: protocol.ChunkType()},
	}); err != nil {
		t.Fatalf("send replicate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !selfStore.Contains(record.Key) {
		if time.Now().After(deadline) {
			t.Fatal("pulled record never arrived")
		}

		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestReplicateEventLargerThanFetchCapFullyPulled(t *testing.T) {
	network := transport.NewInProcessNetwork()

	selfStore := store.NewClientStore()
	self := network.Join("self", selfStore)

	holderStore := store.NewClientStore()
	holder := network.Join("holder", holderStore)

	// A single offer carrying more addresses than the fetch cap must be
	// pulled completely without any further event.
	var offered []transport.ReplicatedAddress

	for i := 0; i < 6; i++ {
		record := chunkRecord(t, fmt.Sprintf("offer-%d", i))
		holdChunk(t, holderStore, record)
		offered = append(offered, transport.ReplicatedAddress{Address: record.Key, Type: protocol.ChunkType()})
	}

	fetcher := NewFetcher(self, selfStore, nil, nil)
	controller := NewController(self, selfStore, fetcher, DefaultControllerConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		controller.Run(ctx)
		close(done)
	}()

	if err := holder.SendReplicate(ctx, "self", offered); err != nil {
		t.Fatalf("send replicate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)

	for {
		held := 0

		for _, ra := range offered {
			if selfStore.Contains(ra.Address) {
				held++
			}
		}

		if held == len(offered) {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d offered addresses pulled", held, len(offered))
		}

		time.Sleep(10 * time.Millisecond)
	}

	fetcher.Wait()

	if got := fetcher.PendingCount(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}

	cancel()
	<-done
}
