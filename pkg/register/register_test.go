package register

import (
	"bytes"
	"testing"

	"github.com/maidsafe/antstore/pkg/protocol"
)

func TestRootHashIgnoresOpOrder(t *testing.T) {
	owner := []byte("owner-key")

	a := New(owner)
	a.Write([]byte("alice"), []byte("v1"))

	b := New(owner)
	b.Write([]byte("bob"), []byte("v2"))

	// Merge in opposite orders so the op slices diverge.
	merged1 := New(owner)
	if err := merged1.Merge(a); err != nil {
		t.Fatalf("merge a: %v", err)
	}

	if err := merged1.Merge(b); err != nil {
		t.Fatalf("merge b: %v", err)
	}

	merged2 := New(owner)
	if err := merged2.Merge(b); err != nil {
		t.Fatalf("merge b: %v", err)
	}

	if err := merged2.Merge(a); err != nil {
		t.Fatalf("merge a: %v", err)
	}

	if !Equivalent(merged1, merged2) {
		t.Fatal("merge order must not change the root state")
	}

	v1, err := merged1.MarshalValue(protocol.KindRegisterRecord)
	if err != nil {
		t.Fatalf("marshal merged1: %v", err)
	}

	v2, err := merged2.MarshalValue(protocol.KindRegisterRecord)
	if err != nil {
		t.Fatalf("marshal merged2: %v", err)
	}

	if bytes.Equal(v1, v2) {
		t.Fatal("expected divergent serializations for this scenario")
	}

	r1, err := RootOfValue(v1)
	if err != nil {
		t.Fatalf("root of v1: %v", err)
	}

	r2, err := RootOfValue(v2)
	if err != nil {
		t.Fatalf("root of v2: %v", err)
	}

	if r1 != r2 {
		t.Fatal("divergent serializations must share a root hash")
	}
}

func TestMergeDeduplicatesOps(t *testing.T) {
	owner := []byte("owner")

	a := New(owner)
	a.Write([]byte("alice"), []byte("v1"))

	b := New(owner)
	if err := b.Merge(a); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if err := b.Merge(a); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	if len(b.Ops) != 1 {
		t.Fatalf("expected 1 op after repeated merge, got %d", len(b.Ops))
	}
}

func TestMergeRejectsForeignOwner(t *testing.T) {
	a := New([]byte("owner-a"))
	b := New([]byte("owner-b"))

	if err := a.Merge(b); err == nil {
		t.Fatal("expected owner mismatch error")
	}
}

func TestWriteChainsParents(t *testing.T) {
	r := New([]byte("owner"))

	first := r.Write([]byte("alice"), []byte("v1"))
	second := r.Write([]byte("alice"), []byte("v2"))

	if len(first.Parents) != 0 {
		t.Fatalf("first op must have no parents, got %d", len(first.Parents))
	}

	if len(second.Parents) != 1 {
		t.Fatalf("second op must cite one parent, got %d", len(second.Parents))
	}

	h := first.Hash()
	if !bytes.Equal(second.Parents[0], h[:]) {
		t.Fatal("second op must cite the first as parent")
	}
}

func TestFromValueRejectsNonRegisterKind(t *testing.T) {
	value, err := protocol.MarshalRecordValue(protocol.KindChunkRecord, []byte("content"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if _, err := FromValue(value); err == nil {
		t.Fatal("expected kind rejection")
	}
}
