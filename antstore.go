// Package antstore assembles the storage-consistency layer of a
// content-addressed peer-to-peer network: the record store, the quoting and
// payment gate, the read/write policy engine, the churn replication
// controller and the sybil detector, wired over a caller-supplied DHT
// substrate.
package antstore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/telemetry"
	"github.com/maidsafe/antstore/pkg/churn"
	"github.com/maidsafe/antstore/pkg/mgmt"
	"github.com/maidsafe/antstore/pkg/payment"
	"github.com/maidsafe/antstore/pkg/policy"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/store"
	"github.com/maidsafe/antstore/pkg/sybil"
	"github.com/maidsafe/antstore/pkg/transport"
)

// Node is a running storage node: it stores verified records, quotes prices,
// validates paid writes, replicates under churn and watches its
// neighborhood for sybil clustering.
type Node struct {
	substrate  transport.Substrate
	store      *store.NodeStore
	engine     *policy.Engine
	validator  *policy.PutValidator
	fetcher    *churn.Fetcher
	controller *churn.Controller
	detector   *sybil.Detector

	logger      *zap.Logger
	instruments *telemetry.Instruments
	signingKey  ed25519.PrivateKey
	verifier    payment.Verifier

	churnCfg  churn.ControllerConfig
	sybilCfg  sybil.Config
	storeOpts []store.Option[store.NodeStore]

	mgmtAddr   string
	mgmtServer *mgmt.Server

	cancel context.CancelFunc
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger every component reports through.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// WithMeter derives the telemetry instruments from the given meter.
func WithMeter(meter metric.Meter) Option {
	return func(n *Node) {
		if inst, err := telemetry.New(meter); err == nil {
			n.instruments = inst
		}
	}
}

// WithPaymentVerifier wires the external wallet subsystem that settles
// payment proofs.
func WithPaymentVerifier(verifier payment.Verifier) Option {
	return func(n *Node) { n.verifier = verifier }
}

// WithSigningKey sets the key quotes are signed with. A fresh key is
// generated when absent.
func WithSigningKey(key ed25519.PrivateKey) Option {
	return func(n *Node) { n.signingKey = key }
}

// WithChurnConfig tunes the replication controller.
func WithChurnConfig(cfg churn.ControllerConfig) Option {
	return func(n *Node) { n.churnCfg = cfg }
}

// WithSybilConfig tunes the sybil detector.
func WithSybilConfig(cfg sybil.Config) Option {
	return func(n *Node) { n.sybilCfg = cfg }
}

// WithStoreOptions forwards options to the underlying node store.
func WithStoreOptions(opts ...store.Option[store.NodeStore]) Option {
	return func(n *Node) { n.storeOpts = append(n.storeOpts, opts...) }
}

// WithManagementHTTP enables the operator endpoint on addr.
func WithManagementHTTP(addr string) Option {
	return func(n *Node) { n.mgmtAddr = addr }
}

// NewNode builds a node over the substrate and persister.
func NewNode(ctx context.Context, substrate transport.Substrate, persister store.Persister, options ...Option) (*Node, error) {
	n := &Node{
		substrate:   substrate,
		logger:      zap.NewNop(),
		instruments: telemetry.Noop(),
		churnCfg:    churn.DefaultControllerConfig(),
		sybilCfg:    sybil.DefaultConfig(),
	}

	for _, option := range options {
		option(n)
	}

	if n.signingKey == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, ewrap.Wrap(err, "generating quote signing key")
		}

		n.signingKey = priv
	}

	storeOpts := append([]store.Option[store.NodeStore]{
		store.WithLogger[store.NodeStore](n.logger),
		store.WithInstruments(n.instruments),
	}, n.storeOpts...)

	nodeStore, err := store.NewNodeStore(ctx, substrate.SelfID().Address(), persister, storeOpts...)
	if err != nil {
		return nil, err
	}

	n.store = nodeStore
	n.engine = policy.NewEngine(substrate, n.logger)
	n.validator = policy.NewPutValidator(nodeStore, n.verifier, n.logger)
	n.fetcher = churn.NewFetcher(substrate, nodeStore, n.logger, n.instruments)
	n.controller = churn.NewController(substrate, nodeStore, n.fetcher, n.churnCfg, n.logger, n.instruments)
	n.detector = sybil.New(n.sybilCfg, n.logger)

	return n, nil
}

// Start launches the churn loop and, when configured, the management
// endpoint. Idempotent per node lifetime.
func (n *Node) Start(ctx context.Context) error {
	if n.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	go n.controller.Run(runCtx)

	if n.mgmtAddr != "" {
		n.mgmtServer = mgmt.NewServer(n.mgmtAddr,
			mgmt.WithFetcher(n.fetcher),
			mgmt.WithSizeEstimator(n.detector),
		)

		err := n.mgmtServer.Start(ctx, n.store)
		if err != nil {
			cancel()
			n.cancel = nil

			return err
		}
	}

	return nil
}

// Stop halts the churn loop, waits for in-flight pulls and shuts the
// management endpoint down.
func (n *Node) Stop(ctx context.Context) error {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}

	n.fetcher.Wait()

	if n.mgmtServer != nil {
		return n.mgmtServer.Shutdown(ctx)
	}

	return nil
}

// Quote prices the storage of the content at addr and signs the commitment.
func (n *Node) Quote(ctx context.Context, addr protocol.NetworkAddress) (payment.PaymentQuote, error) {
	cost, metrics := n.store.StoreCost(ctx, addr)

	quote := payment.NewQuote(addr.Bytes(), cost, metrics)

	err := quote.Sign(n.signingKey)
	if err != nil {
		return payment.PaymentQuote{}, err
	}

	return quote, nil
}

// HandlePut validates and stores a record pushed to this node. Substrate
// adapters route incoming PUT requests here.
func (n *Node) HandlePut(ctx context.Context, record protocol.Record) error {
	return n.validator.ValidatePut(ctx, record)
}

// CheckNeighborhood judges the close group around target for sybil-like
// clustering, based on the probe table maintained via RecordProbe.
func (n *Node) CheckNeighborhood(ctx context.Context, target protocol.NetworkAddress, peers []transport.PeerID) (sybil.Result, error) {
	keys := make([]sybil.Key, 0, len(peers))
	for _, peer := range peers {
		keys = append(keys, peer.Address().Key())
	}

	result, err := n.detector.Check(target.Key(), keys)
	if err != nil {
		return sybil.Result{}, err
	}

	n.instruments.AddFlagged(ctx, result.Flagged)

	return result, nil
}

// RecordProbe feeds the detector's probe table with the close group
// observed around a random probe address.
func (n *Node) RecordProbe(probe protocol.NetworkAddress, peers []transport.PeerID) {
	keys := make([]sybil.Key, 0, len(peers))
	for _, peer := range peers {
		keys = append(keys, peer.Address().Key())
	}

	n.detector.RecordProbe(probe.Key(), keys)
}

// Store exposes the node's record store.
func (n *Node) Store() *store.NodeStore { return n.store }

// Engine exposes the node's policy engine.
func (n *Node) Engine() *policy.Engine { return n.engine }

// Fetcher exposes the pull-replication fetcher.
func (n *Node) Fetcher() *churn.Fetcher { return n.fetcher }

// ManagementAddress returns the bound management address, if started.
func (n *Node) ManagementAddress() string {
	if n.mgmtServer == nil {
		return ""
	}

	return n.mgmtServer.Address()
}
