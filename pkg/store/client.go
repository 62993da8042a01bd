package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/maidsafe/antstore/pkg/protocol"
)

// ClientStore is the ephemeral, in-memory record store used by clients. It
// never persists, never quotes and never prunes; records live only for the
// duration of the process.
type ClientStore struct {
	mu      sync.Mutex
	records map[protocol.NetworkAddress]clientEntry
	staging map[protocol.NetworkAddress]protocol.Record
	logger  *zap.Logger
}

type clientEntry struct {
	record     protocol.Record
	recordType protocol.RecordType
}

// NewClientStore creates an empty client store.
func NewClientStore(options ...Option[ClientStore]) *ClientStore {
	c := &ClientStore{
		records: make(map[protocol.NetworkAddress]clientEntry),
		staging: make(map[protocol.NetworkAddress]protocol.Record),
		logger:  zap.NewNop(),
	}

	ApplyOptions(c, options...)

	return c
}

// Get returns the record held at key, if any.
func (c *ClientStore) Get(_ context.Context, key protocol.NetworkAddress) (protocol.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.records[key]
	if !ok {
		return protocol.Record{}, false
	}

	return entry.record, true
}

// Put holds a record provisionally until MarkStored promotes it.
func (c *ClientStore) Put(_ context.Context, record protocol.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.staging[record.Key] = record

	return nil
}

// PutVerified stores a verified record in memory.
func (c *ClientStore) PutVerified(_ context.Context, record protocol.Record, recordType protocol.RecordType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[record.Key] = clientEntry{record: record, recordType: recordType}
	delete(c.staging, record.Key)

	return nil
}

// Remove drops the record at key.
func (c *ClientStore) Remove(_ context.Context, key protocol.NetworkAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.records, key)
	delete(c.staging, key)

	return nil
}

// Contains reports whether a verified record is held at key.
func (c *ClientStore) Contains(key protocol.NetworkAddress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.records[key]

	return ok
}

// Addresses snapshots the verified records.
func (c *ClientStore) Addresses() map[protocol.NetworkAddress]protocol.RecordType {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[protocol.NetworkAddress]protocol.RecordType, len(c.records))
	for key, entry := range c.records {
		out[key] = entry.recordType
	}

	return out
}

// MarkStored promotes a provisionally held record.
func (c *ClientStore) MarkStored(_ context.Context, key protocol.NetworkAddress, recordType protocol.RecordType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.staging[key]
	if !ok {
		return nil
	}

	delete(c.staging, key)
	c.records[key] = clientEntry{record: record, recordType: recordType}

	return nil
}
