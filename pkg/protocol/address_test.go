package protocol

import (
	"testing"
)

func TestAddressDerivationIsStable(t *testing.T) {
	a := ChunkAddress([]byte("same content"))
	b := ChunkAddress([]byte("same content"))

	if a != b {
		t.Fatal("identical content must derive identical addresses")
	}

	r := RegisterAddress([]byte("same content"))
	if a == r {
		t.Fatal("different kinds must not collide on the same input")
	}
}

func TestAddressKeyRoundTrip(t *testing.T) {
	addr := SpendAddress([]byte("unique-key"))

	back, err := AddressFromKey(addr.Bytes())
	if err != nil {
		t.Fatalf("from key: %v", err)
	}

	if back != addr {
		t.Fatalf("round trip mismatch: %v != %v", back, addr)
	}

	back, err = AddressFromHexName(addr.HexName())
	if err != nil {
		t.Fatalf("from hex name: %v", err)
	}

	if back != addr {
		t.Fatalf("hex round trip mismatch: %v != %v", back, addr)
	}
}

func TestAddressFromKeyRejectsBadLength(t *testing.T) {
	if _, err := AddressFromKey([]byte("short")); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestDistanceProperties(t *testing.T) {
	a := ChunkAddress([]byte("a"))
	b := ChunkAddress([]byte("b"))

	if !a.Distance(a).IsZero() {
		t.Fatal("self distance must be zero")
	}

	dab, dba := a.Distance(b), b.Distance(a)
	if dab.Cmp(dba) != 0 {
		t.Fatal("distance must be symmetric")
	}

	if dab.IsZero() {
		t.Fatal("distinct addresses must have nonzero distance")
	}

	if got := dab.ILog2() + dab.CommonPrefixLen(); got != NameLen*8-1 {
		t.Fatalf("ilog2 and cpl must partition the key width, got %d", got)
	}
}

func TestDistanceCmpOrdering(t *testing.T) {
	var near, far Distance

	near[NameLen-1] = 1
	far[0] = 0x80

	if near.Cmp(far) != -1 {
		t.Fatal("low-bit distance must compare smaller")
	}

	if far.Cmp(near) != 1 {
		t.Fatal("high-bit distance must compare larger")
	}

	if near.CommonPrefixLen() != NameLen*8-1 {
		t.Fatalf("expected cpl %d, got %d", NameLen*8-1, near.CommonPrefixLen())
	}

	if far.ILog2() != NameLen*8-1 {
		t.Fatalf("expected ilog2 %d, got %d", NameLen*8-1, far.ILog2())
	}
}

func TestDistanceFloat(t *testing.T) {
	var zero, max Distance

	for i := range max {
		max[i] = 0xff
	}

	if zero.Float() != 0 {
		t.Fatalf("zero distance must map to 0, got %f", zero.Float())
	}

	if f := max.Float(); f <= 0.99 || f >= 1.0 {
		t.Fatalf("max distance must approach 1, got %f", f)
	}
}
