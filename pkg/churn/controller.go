package churn

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/constants"
	"github.com/maidsafe/antstore/internal/telemetry"
	"github.com/maidsafe/antstore/pkg/store"
	"github.com/maidsafe/antstore/pkg/transport"
)

// ControllerConfig tunes the churn loop.
type ControllerConfig struct {
	// LocalScanInterval is the cadence of the routing-table scan.
	LocalScanInterval time.Duration
	// NetworkScanInterval is the cadence of the full closest-peers query.
	NetworkScanInterval time.Duration
	// BatchSize caps addresses per replicate event.
	BatchSize int
}

// DefaultControllerConfig returns the stock cadence and batching.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		LocalScanInterval:   constants.LocalScanInterval,
		NetworkScanInterval: constants.NetworkScanInterval,
		BatchSize:           constants.MaxReplicationKeysPerRequest,
	}
}

// Controller watches the close group around this node and reacts to
// membership change: newcomers get a push of held chunk addresses, and
// replicate offers from others feed the pull fetcher. Departures are left to
// the routing table and to the other nodes observing the same churn.
type Controller struct {
	substrate   transport.Substrate
	store       store.RecordStore
	fetcher     *Fetcher
	cfg         ControllerConfig
	logger      *zap.Logger
	instruments *telemetry.Instruments

	mu    sync.Mutex
	known map[transport.PeerID]struct{}
}

// NewController creates a churn controller. Run starts the loop.
func NewController(substrate transport.Substrate, recordStore store.RecordStore, fetcher *Fetcher, cfg ControllerConfig, logger *zap.Logger, instruments *telemetry.Instruments) *Controller {
	if cfg.LocalScanInterval <= 0 {
		cfg.LocalScanInterval = constants.LocalScanInterval
	}

	if cfg.NetworkScanInterval <= 0 {
		cfg.NetworkScanInterval = constants.NetworkScanInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.MaxReplicationKeysPerRequest
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if instruments == nil {
		instruments = telemetry.Noop()
	}

	return &Controller{
		substrate:   substrate,
		store:       recordStore,
		fetcher:     fetcher,
		cfg:         cfg,
		logger:      logger,
		instruments: instruments,
		known:       make(map[transport.PeerID]struct{}),
	}
}

// Run owns the two scan timers and the substrate event stream until the
// context ends. Push and pull work is spawned detached; a slow peer never
// stalls the loop.
func (c *Controller) Run(ctx context.Context) {
	local := time.NewTicker(c.cfg.LocalScanInterval)
	defer local.Stop()

	network := time.NewTicker(c.cfg.NetworkScanInterval)
	defer network.Stop()

	self := c.substrate.SelfID().Address()
	events := c.substrate.Events()

	for {
		select {
		case <-ctx.Done():
			return

		case <-local.C:
			c.Scan(ctx, c.substrate.LocalClosestPeers(self))

		case <-network.C:
			peers, err := c.substrate.GetClosestPeers(ctx, self)
			if err != nil {
				c.logger.Warn("network scan failed", zap.Error(err))

				continue
			}

			c.Scan(ctx, peers)

		case event := <-events:
			c.handleEvent(ctx, event)
		}
	}
}

// Scan diffs the observed close group against the previous one and pushes
// to every newcomer. Only the difference in favor of newcomers is acted on.
func (c *Controller) Scan(ctx context.Context, peers []transport.PeerID) {
	self := c.substrate.SelfID()

	c.mu.Lock()
	observed := make(map[transport.PeerID]struct{}, len(peers))

	var newcomers []transport.PeerID

	for _, peer := range peers {
		if peer == self {
			continue
		}

		observed[peer] = struct{}{}

		if _, ok := c.known[peer]; !ok {
			newcomers = append(newcomers, peer)
		}
	}

	c.known = observed
	c.mu.Unlock()

	for _, peer := range newcomers {
		c.logger.Info("new close-group peer, offering held chunks",
			zap.String("peer", string(peer)))

		// Detached from the tick; failures are re-offered naturally on a
		// later scan.
		go c.pushTo(context.WithoutCancel(ctx), peer)
	}
}

// pushTo offers every locally held chunk address to peer, in batches.
// Registers and spends travel through the pull path instead.
func (c *Controller) pushTo(ctx context.Context, peer transport.PeerID) {
	var addresses []transport.ReplicatedAddress

	for addr, recordType := range c.store.Addresses() {
		if !recordType.Chunk {
			continue
		}

		addresses = append(addresses, transport.ReplicatedAddress{Address: addr, Type: recordType})
	}

	if len(addresses) == 0 {
		return
	}

	for start := 0; start < len(addresses); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(addresses) {
			end = len(addresses)
		}

		err := c.substrate.SendReplicate(ctx, peer, addresses[start:end])
		if err != nil {
			c.logger.Warn("replication push failed",
				zap.String("peer", string(peer)),
				zap.Error(err))

			return
		}
	}

	c.instruments.ReplicationPushes.Add(ctx, 1)
}

// handleEvent reacts to substrate notifications: replicate offers feed the
// pull fetcher, connectivity changes wait for the next scan.
func (c *Controller) handleEvent(ctx context.Context, event transport.Event) {
	if event.Kind != transport.EventReplicateReceived {
		return
	}

	queued := c.fetcher.AddKeys(event.Peer, event.Addresses)
	if queued > 0 {
		c.logger.Debug("queued replication fetches",
			zap.Int("queued", queued),
			zap.String("holder", string(event.Peer)))
	}

	c.fetcher.Process(ctx)
}
