package store

import (
	"context"
	"testing"

	"github.com/maidsafe/antstore/pkg/protocol"
)

func TestClientStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewClientStore()

	record, recordType := chunkRecord(t, "client content")

	if err := c.Put(ctx, record); err != nil {
		t.Fatalf("put: %v", err)
	}

	if c.Contains(record.Key) {
		t.Fatal("provisional record must not be contained")
	}

	if err := c.MarkStored(ctx, record.Key, recordType); err != nil {
		t.Fatalf("mark stored: %v", err)
	}

	got, ok := c.Get(ctx, record.Key)
	if !ok || string(got.Value) != string(record.Value) {
		t.Fatal("promoted record must be readable")
	}

	if len(c.Addresses()) != 1 {
		t.Fatalf("expected 1 address, got %d", len(c.Addresses()))
	}

	if err := c.Remove(ctx, record.Key); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if c.Contains(record.Key) {
		t.Fatal("removed record must be gone")
	}
}

func TestClientStoreMarkStoredWithoutStaging(t *testing.T) {
	c := NewClientStore()

	key := protocol.ChunkAddress([]byte("never staged"))

	if err := c.MarkStored(context.Background(), key, protocol.ChunkType()); err != nil {
		t.Fatalf("mark stored on unknown key must be a no-op: %v", err)
	}

	if c.Contains(key) {
		t.Fatal("nothing must be stored")
	}
}
