// Package churn watches the local close group for membership change and
// moves records accordingly: push replication offers held addresses to
// newcomers, pull replication fetches addresses reported by other holders.
package churn

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/constants"
	"github.com/maidsafe/antstore/internal/telemetry"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/store"
	"github.com/maidsafe/antstore/pkg/transport"
)

type holderState uint8

const (
	holderPending holderState = iota
	holderOnGoing
	holderFailed
)

type fetchEntry struct {
	recordType protocol.RecordType
	holders    map[transport.PeerID]holderState
}

// Fetcher pulls records this node is missing from the peers that reported
// holding them. In-flight fetches are capped; a holder that fails or times
// out is not asked again, and an address all of whose holders failed is
// dropped until someone re-offers it.
type Fetcher struct {
	substrate   transport.Substrate
	store       store.RecordStore
	logger      *zap.Logger
	instruments *telemetry.Instruments

	maxParallel int
	timeout     time.Duration

	mu      sync.Mutex
	entries map[protocol.NetworkAddress]*fetchEntry
	ongoing int

	wg sync.WaitGroup
}

// NewFetcher creates a pull fetcher over the substrate and the local store.
func NewFetcher(substrate transport.Substrate, recordStore store.RecordStore, logger *zap.Logger, instruments *telemetry.Instruments) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	if instruments == nil {
		instruments = telemetry.Noop()
	}

	return &Fetcher{
		substrate:   substrate,
		store:       recordStore,
		logger:      logger,
		instruments: instruments,
		maxParallel: constants.MaxParallelFetch,
		timeout:     constants.FetchFailedDuration,
		entries:     make(map[protocol.NetworkAddress]*fetchEntry),
	}
}

// AddKeys records that holder offered the given addresses, skipping any the
// local store already holds. Returns how many were newly queued.
func (f *Fetcher) AddKeys(holder transport.PeerID, addresses []transport.ReplicatedAddress) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	queued := 0

	for _, offered := range addresses {
		if f.store.Contains(offered.Address) {
			continue
		}

		entry, ok := f.entries[offered.Address]
		if !ok {
			entry = &fetchEntry{
				recordType: offered.Type,
				holders:    make(map[transport.PeerID]holderState),
			}
			f.entries[offered.Address] = entry
			queued++
		}

		if _, known := entry.holders[holder]; !known {
			entry.holders[holder] = holderPending
		}
	}

	return queued
}

// Process promotes pending fetches up to the parallelism cap, spawning one
// detached goroutine per fetch. Each completed fetch promotes the next
// pending ones itself, so a single call drains the whole queue.
func (f *Fetcher) Process(ctx context.Context) {
	f.mu.Lock()

	type job struct {
		key        protocol.NetworkAddress
		holder     transport.PeerID
		recordType protocol.RecordType
	}

	var jobs []job

	for key, entry := range f.entries {
		if f.ongoing >= f.maxParallel {
			break
		}

		if entry.inFlight() {
			continue
		}

		holder, ok := entry.nextPendingHolder()
		if !ok {
			// Every holder failed; drop until re-offered.
			delete(f.entries, key)

			continue
		}

		entry.holders[holder] = holderOnGoing
		f.ongoing++

		jobs = append(jobs, job{key: key, holder: holder, recordType: entry.recordType})
	}
	f.mu.Unlock()

	for _, j := range jobs {
		f.wg.Add(1)

		go func(j job) {
			defer f.wg.Done()
			f.fetchOne(ctx, j.key, j.holder, j.recordType)
		}(j)
	}
}

// Wait blocks until every spawned fetch finished. Used by tests and
// shutdown, never by the tick loop.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// PendingCount returns how many addresses still await fetching.
func (f *Fetcher) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.entries)
}

func (f *Fetcher) fetchOne(ctx context.Context, key protocol.NetworkAddress, holder transport.PeerID, recordType protocol.RecordType) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	record, err := f.substrate.GetRecord(fetchCtx, holder, key)

	if err == nil {
		_, err = protocol.KindOfValue(record.Value)
	}

	if err == nil {
		err = f.store.Put(ctx, record)
	}

	if err == nil {
		err = f.store.MarkStored(ctx, key, recordType)
	}

	f.mu.Lock()
	f.ongoing--

	if err != nil {
		f.logger.Warn("replication fetch failed",
			zap.Stringer("key", key),
			zap.String("holder", string(holder)),
			zap.Error(err))

		if entry, ok := f.entries[key]; ok {
			entry.holders[holder] = holderFailed
		}
		f.mu.Unlock()

		// The freed slot promotes the next pending fetch, including a
		// retry of this address from another holder.
		f.Process(ctx)

		return
	}

	delete(f.entries, key)
	f.mu.Unlock()

	f.instruments.ReplicationPulls.Add(ctx, 1)

	f.Process(ctx)
}

func (e *fetchEntry) inFlight() bool {
	for _, state := range e.holders {
		if state == holderOnGoing {
			return true
		}
	}

	return false
}

func (e *fetchEntry) nextPendingHolder() (transport.PeerID, bool) {
	for holder, state := range e.holders {
		if state == holderPending {
			return holder, true
		}
	}

	return "", false
}
