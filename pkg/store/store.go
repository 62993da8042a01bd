// Package store implements the dual-mode record store: an ephemeral
// ClientStore for callers that only read and relay, and a persistent
// NodeStore that additionally quotes storage cost, tracks its responsibility
// range, and prunes out-of-range records under pressure. Quoting methods
// exist only on NodeStore, so a client can never be asked for a price.
package store

import (
	"context"

	"github.com/maidsafe/antstore/pkg/protocol"
)

// RecordStore is the surface shared by both store modes. An unverified Put
// holds the record provisionally; only PutVerified and MarkStored make a
// record visible through Addresses.
type RecordStore interface {
	// Get returns the record held at key, if any.
	Get(ctx context.Context, key protocol.NetworkAddress) (protocol.Record, bool)
	// Put holds a record provisionally, pending external verification.
	Put(ctx context.Context, record protocol.Record) error
	// PutVerified durably stores a record the caller has already verified.
	PutVerified(ctx context.Context, record protocol.Record, recordType protocol.RecordType) error
	// Remove drops the record at key.
	Remove(ctx context.Context, key protocol.NetworkAddress) error
	// Contains reports whether a verified record is held at key.
	Contains(key protocol.NetworkAddress) bool
	// Addresses snapshots the verified records and their replication types.
	Addresses() map[protocol.NetworkAddress]protocol.RecordType
	// MarkStored promotes a provisionally held record to verified.
	MarkStored(ctx context.Context, key protocol.NetworkAddress, recordType protocol.RecordType) error
}
