package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/constants"
	"github.com/maidsafe/antstore/internal/libs/serializer"
	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/internal/telemetry"
	"github.com/maidsafe/antstore/pkg/payment"
	"github.com/maidsafe/antstore/pkg/protocol"
)

// minStoreCost is the floor price a node ever quotes.
const minStoreCost = 10

// persistedMetrics is the JSON shape of the quoting counters that survive
// restarts.
type persistedMetrics struct {
	ReceivedPaymentCount uint64 `json:"received_payment_count"`
	LiveTimeBase         uint64 `json:"live_time_base"`
}

// NodeStore is the persistent, node-mode record store. Beyond the shared
// RecordStore surface it quotes storage cost, counts received payments, and
// tracks the distance range it considers itself responsible for.
type NodeStore struct {
	mu      sync.Mutex
	local   protocol.NetworkAddress
	records map[protocol.NetworkAddress]protocol.RecordType
	staging map[protocol.NetworkAddress]protocol.Record

	persister     Persister
	maxRecords    int
	maxValueBytes int

	responsibleRange    protocol.Distance
	hasResponsibleRange bool

	receivedPaymentCount uint64
	liveTimeBase         uint64
	startedAt            time.Time

	logger      *zap.Logger
	instruments *telemetry.Instruments
	metricsSer  serializer.ISerializer
}

// NewNodeStore opens a node store backed by the given persister, rebuilding
// the in-memory index from what survives on it. Corrupt record entries are
// deleted and skipped.
func NewNodeStore(ctx context.Context, local protocol.NetworkAddress, persister Persister, options ...Option[NodeStore]) (*NodeStore, error) {
	if persister == nil {
		return nil, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "persister")
	}

	metricsSer, err := serializer.New("json")
	if err != nil {
		return nil, err
	}

	n := &NodeStore{
		local:         local,
		records:       make(map[protocol.NetworkAddress]protocol.RecordType),
		staging:       make(map[protocol.NetworkAddress]protocol.Record),
		persister:     persister,
		maxRecords:    constants.MaxRecordsCount,
		maxValueBytes: constants.MaxValueBytes,
		startedAt:     time.Now(),
		logger:        zap.NewNop(),
		instruments:   telemetry.Noop(),
		metricsSer:    metricsSer,
	}

	ApplyOptions(n, options...)

	if n.maxRecords <= 0 {
		return nil, sentinel.ErrInvalidCapacity
	}

	err = n.restore(ctx)
	if err != nil {
		return nil, err
	}

	return n, nil
}

// restore rebuilds the index and the quoting counters from the persister.
func (n *NodeStore) restore(ctx context.Context) error {
	names, err := n.persister.List(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		addr, err := protocol.AddressFromHexName(name)
		if err != nil {
			n.logger.Warn("dropping record with malformed name", zap.String("name", name))
			_ = n.persister.Delete(ctx, name)

			continue
		}

		value, err := n.persister.Read(ctx, name)
		if err != nil {
			continue
		}

		recordType, err := protocol.TypeOfRecord(value)
		if err != nil {
			n.logger.Warn("deleting corrupt record", zap.String("name", name))
			_ = n.persister.Delete(ctx, name)

			continue
		}

		n.records[addr] = recordType
	}

	data, err := n.persister.ReadMetrics(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}

		return err
	}

	var metrics persistedMetrics

	err = n.metricsSer.Unmarshal(data, &metrics)
	if err != nil {
		n.logger.Warn("discarding corrupt quoting metrics", zap.Error(err))

		return nil
	}

	n.receivedPaymentCount = metrics.ReceivedPaymentCount
	n.liveTimeBase = metrics.LiveTimeBase

	return nil
}

// Get returns the record held at key. A record whose persisted bytes no
// longer decode is deleted and reported absent.
func (n *NodeStore) Get(ctx context.Context, key protocol.NetworkAddress) (protocol.Record, bool) {
	n.mu.Lock()
	_, ok := n.records[key]
	n.mu.Unlock()

	if !ok {
		return protocol.Record{}, false
	}

	value, err := n.persister.Read(ctx, key.HexName())
	if err != nil {
		return protocol.Record{}, false
	}

	if _, err := protocol.KindOfValue(value); err != nil {
		n.logger.Warn("self-healing corrupt record", zap.Stringer("key", key))
		_ = n.Remove(ctx, key)

		return protocol.Record{}, false
	}

	return protocol.Record{Key: key, Value: value}, true
}

// Put holds a record provisionally. Records already held are dropped
// silently unless they carry payment, which always passes through so the
// payment can be collected.
func (n *NodeStore) Put(_ context.Context, record protocol.Record) error {
	if len(record.Value) > n.maxValueBytes {
		return ewrap.Wrap(sentinel.ErrValueTooLarge, record.Key.String())
	}

	kind, err := protocol.KindOfValue(record.Value)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, held := n.records[record.Key]; held && !kind.WithPayment() {
		if kind.IsChunk() {
			return nil
		}

		if incoming := protocol.NonChunkType(record.Value); incoming.ContentHash == existing.ContentHash {
			return nil
		}
	}

	n.staging[record.Key] = record

	return nil
}

// PutVerified durably stores a record the caller has already verified. When
// the store is full, a within-range record may displace the farthest
// out-of-range one; everything else is rejected with ErrStoreFull.
func (n *NodeStore) PutVerified(ctx context.Context, record protocol.Record, recordType protocol.RecordType) error {
	if len(record.Value) > n.maxValueBytes {
		return ewrap.Wrap(sentinel.ErrValueTooLarge, record.Key.String())
	}

	n.mu.Lock()

	_, replacing := n.records[record.Key]
	if !replacing && len(n.records) >= n.maxRecords {
		evict, ok := n.evictableLocked(record.Key)
		if !ok {
			n.mu.Unlock()

			return ewrap.Wrap(sentinel.ErrStoreFull, record.Key.String())
		}

		delete(n.records, evict)
		n.mu.Unlock()

		err := n.persister.Delete(ctx, evict.HexName())
		if err != nil {
			return err
		}

		n.instruments.RecordsStored.Add(ctx, -1)
		n.logger.Info("pruned out-of-range record", zap.Stringer("key", evict))
		n.mu.Lock()
	}

	// Reserve the slot before touching the persister so a concurrent put
	// cannot double-book it; roll back on write failure.
	n.records[record.Key] = recordType
	delete(n.staging, record.Key)
	n.mu.Unlock()

	err := n.persister.Write(ctx, record.Key.HexName(), record.Value)
	if err != nil {
		n.mu.Lock()
		delete(n.records, record.Key)
		n.mu.Unlock()

		return err
	}

	if !replacing {
		n.instruments.RecordsStored.Add(ctx, 1)
	}

	return nil
}

// evictableLocked picks the record to displace for a new within-range key:
// the farthest stored record outside the responsibility range. Returns false
// when the new key is itself out of range, no range is set, or nothing is
// out of range.
func (n *NodeStore) evictableLocked(incoming protocol.NetworkAddress) (protocol.NetworkAddress, bool) {
	if !n.hasResponsibleRange {
		return protocol.NetworkAddress{}, false
	}

	if n.local.Distance(incoming).Cmp(n.responsibleRange) > 0 {
		return protocol.NetworkAddress{}, false
	}

	var (
		farthest protocol.NetworkAddress
		best     protocol.Distance
		found    bool
	)

	for key := range n.records {
		d := n.local.Distance(key)
		if d.Cmp(n.responsibleRange) <= 0 {
			continue
		}

		if !found || d.Cmp(best) > 0 {
			farthest, best, found = key, d, true
		}
	}

	return farthest, found
}

// Remove drops the record at key.
func (n *NodeStore) Remove(ctx context.Context, key protocol.NetworkAddress) error {
	n.mu.Lock()
	_, held := n.records[key]
	delete(n.records, key)
	delete(n.staging, key)
	n.mu.Unlock()

	err := n.persister.Delete(ctx, key.HexName())
	if err != nil {
		return err
	}

	if held {
		n.instruments.RecordsStored.Add(ctx, -1)
	}

	return nil
}

// Contains reports whether a verified record is held at key.
func (n *NodeStore) Contains(key protocol.NetworkAddress) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, ok := n.records[key]

	return ok
}

// Addresses snapshots the verified records and their replication types.
// Staged records are excluded until MarkStored promotes them.
func (n *NodeStore) Addresses() map[protocol.NetworkAddress]protocol.RecordType {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make(map[protocol.NetworkAddress]protocol.RecordType, len(n.records))
	for key, recordType := range n.records {
		out[key] = recordType
	}

	return out
}

// MarkStored promotes a provisionally held record to verified storage.
func (n *NodeStore) MarkStored(ctx context.Context, key protocol.NetworkAddress, recordType protocol.RecordType) error {
	n.mu.Lock()
	record, staged := n.staging[key]
	n.mu.Unlock()

	if !staged {
		return nil
	}

	return n.PutVerified(ctx, record, recordType)
}

// StoreCost quotes the price for storing one more record and snapshots the
// metrics the quote embeds. Cost scales with the number of records relevant
// to this node's responsibility range; received payments shrink the divisor,
// so a neighborhood under paid flooding gets expensive before it fills up.
func (n *NodeStore) StoreCost(ctx context.Context, _ protocol.NetworkAddress) (uint64, payment.QuotingMetrics) {
	n.mu.Lock()

	relevant := uint64(len(n.records))

	if n.hasResponsibleRange {
		relevant = 0

		for key := range n.records {
			if n.local.Distance(key).Cmp(n.responsibleRange) <= 0 {
				relevant++
			}
		}
	}

	payments := n.receivedPaymentCount
	metrics := n.metricsLocked()
	n.mu.Unlock()

	if payments == 0 {
		payments = 1
	}

	divisor := relevant / payments
	if divisor == 0 {
		divisor = 1
	}

	cost := minStoreCost * relevant / divisor
	if cost < minStoreCost {
		cost = minStoreCost
	}

	n.instruments.QuotesIssued.Add(ctx, 1)

	return cost, metrics
}

// PaymentReceived bumps the payment counter feeding future quotes and
// persists it.
func (n *NodeStore) PaymentReceived(ctx context.Context) {
	n.mu.Lock()
	n.receivedPaymentCount++
	data, err := n.metricsSer.Marshal(persistedMetrics{
		ReceivedPaymentCount: n.receivedPaymentCount,
		LiveTimeBase:         n.liveTimeBase,
	})
	n.mu.Unlock()

	if err == nil {
		err = n.persister.WriteMetrics(ctx, data)
	}

	if err != nil {
		n.logger.Warn("persisting quoting metrics failed", zap.Error(err))
	}

	n.instruments.PaymentsReceived.Add(ctx, 1)
}

// Metrics snapshots the current quoting metrics.
func (n *NodeStore) Metrics() payment.QuotingMetrics {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.metricsLocked()
}

func (n *NodeStore) metricsLocked() payment.QuotingMetrics {
	return payment.QuotingMetrics{
		RecordsStored:        uint64(len(n.records)),
		MaxRecords:           uint64(n.maxRecords),
		ReceivedPaymentCount: n.receivedPaymentCount,
		LiveTime:             n.liveTimeBase + uint64(time.Since(n.startedAt).Seconds()),
	}
}

// ResponsibleDistanceRange returns the current responsibility range, if set.
func (n *NodeStore) ResponsibleDistanceRange() (protocol.Distance, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.responsibleRange, n.hasResponsibleRange
}

// SetResponsibleDistanceRange updates the distance up to which this node
// claims responsibility for addresses.
func (n *NodeStore) SetResponsibleDistanceRange(d protocol.Distance) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.responsibleRange = d
	n.hasResponsibleRange = true
}

// Local returns the address this store prices and prunes around.
func (n *NodeStore) Local() protocol.NetworkAddress {
	return n.local
}
