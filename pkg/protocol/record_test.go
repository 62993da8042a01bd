package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/maidsafe/antstore/internal/sentinel"
)

type testPayload struct {
	Owner []byte `msgpack:"owner"`
	Data  []byte `msgpack:"data"`
}

func TestRecordValueRoundTrip(t *testing.T) {
	kinds := []RecordKind{
		KindChunkRecord,
		KindChunkWithPayment,
		KindSpendRecord,
		KindRegisterRecord,
		KindRegisterWithPayment,
	}

	for _, kind := range kinds {
		in := testPayload{Owner: []byte("owner"), Data: []byte("data")}

		value, err := MarshalRecordValue(kind, in)
		if err != nil {
			t.Fatalf("marshal %s: %v", kind, err)
		}

		gotKind, err := KindOfValue(value)
		if err != nil {
			t.Fatalf("kind of %s: %v", kind, err)
		}

		if gotKind != kind {
			t.Fatalf("expected header %s, got %s", kind, gotKind)
		}

		var out testPayload

		gotKind, err = UnmarshalRecordValue(value, &out)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", kind, err)
		}

		if gotKind != kind {
			t.Fatalf("expected kind %s, got %s", kind, gotKind)
		}

		if !bytes.Equal(out.Owner, in.Owner) || !bytes.Equal(out.Data, in.Data) {
			t.Fatalf("payload mismatch after round trip: %+v != %+v", out, in)
		}
	}
}

func TestKindOfValueRejectsMalformed(t *testing.T) {
	_, err := KindOfValue([]byte{0x01})
	if !errors.Is(err, sentinel.ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader for short value, got %v", err)
	}

	_, err = KindOfValue([]byte{0xff, 0xff, 0x00})
	if !errors.Is(err, sentinel.ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader for unknown tag, got %v", err)
	}
}

func TestUnmarshalCorruptPayload(t *testing.T) {
	value, err := MarshalRecordValue(KindRegisterRecord, testPayload{Owner: []byte("o")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	value[len(value)-1] ^= 0xff
	value = value[:len(value)-2]

	var out testPayload

	_, err = UnmarshalRecordValue(value, &out)
	if !errors.Is(err, sentinel.ErrStoreCorrupt) {
		t.Fatalf("expected ErrStoreCorrupt, got %v", err)
	}
}

func TestTypeOfRecord(t *testing.T) {
	chunkVal, err := MarshalRecordValue(KindChunkRecord, []byte("content"))
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}

	rt, err := TypeOfRecord(chunkVal)
	if err != nil {
		t.Fatalf("type of chunk: %v", err)
	}

	if !rt.Chunk {
		t.Fatalf("expected chunk record type, got %+v", rt)
	}

	regA, err := MarshalRecordValue(KindRegisterRecord, testPayload{Owner: []byte("a")})
	if err != nil {
		t.Fatalf("marshal register a: %v", err)
	}

	regB, err := MarshalRecordValue(KindRegisterRecord, testPayload{Owner: []byte("b")})
	if err != nil {
		t.Fatalf("marshal register b: %v", err)
	}

	ta, err := TypeOfRecord(regA)
	if err != nil {
		t.Fatalf("type of register a: %v", err)
	}

	tb, err := TypeOfRecord(regB)
	if err != nil {
		t.Fatalf("type of register b: %v", err)
	}

	if ta.Chunk || tb.Chunk {
		t.Fatal("register records must not classify as chunks")
	}

	if ta.ContentHash == tb.ContentHash {
		t.Fatal("distinct register bodies must yield distinct content hashes")
	}
}

func TestChunkProofAnswer(t *testing.T) {
	content := []byte("the chunk content")

	a := ChunkProofAnswer(content, []byte("nonce-1"))
	b := ChunkProofAnswer(content, []byte("nonce-1"))
	c := ChunkProofAnswer(content, []byte("nonce-2"))

	if a != b {
		t.Fatal("proof must be deterministic for the same nonce")
	}

	if a == c {
		t.Fatal("different nonces must produce different proofs")
	}
}
