package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/maidsafe/antstore"
	"github.com/maidsafe/antstore/pkg/churn"
	"github.com/maidsafe/antstore/pkg/payment"
	"github.com/maidsafe/antstore/pkg/policy"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/store"
	"github.com/maidsafe/antstore/pkg/transport"
)

// acceptAll settles every payment proof. The devnet has no wallet.
type acceptAll struct{}

func (acceptAll) VerifyPayment(context.Context, payment.ProofOfPayment) error { return nil }

// main runs a small in-process devnet: a handful of nodes, one paid chunk
// upload, a read-back, and a late joiner that picks the chunk up through
// replication. Node 0 serves the management endpoint until interrupt.
func main() {
	nodeCount := flag.Int("nodes", 4, "number of devnet nodes")
	mgmtAddr := flag.String("mgmt", "127.0.0.1:8080", "management address of node 0")
	dataDir := flag.String("data", "", "data directory (default: temp)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := *dataDir
	if root == "" {
		root, err = os.MkdirTemp("", "antstore-devnet-")
		if err != nil {
			logger.Fatal("creating data dir", zap.Error(err))
		}
		defer os.RemoveAll(root)
	}

	network := transport.NewInProcessNetwork()
	nodes := make(map[transport.PeerID]*antstore.Node, *nodeCount)

	churnCfg := churn.ControllerConfig{
		LocalScanInterval:   2 * time.Second,
		NetworkScanInterval: 10 * time.Second,
		BatchSize:           64,
	}

	for i := 0; i < *nodeCount; i++ {
		id := transport.PeerID(fmt.Sprintf("node-%d", i))

		sub := network.Join(id, nil)

		persister, err := store.NewDisk(fmt.Sprintf("%s/%s", root, id))
		if err != nil {
			logger.Fatal("opening persister", zap.Error(err))
		}

		options := []antstore.Option{
			antstore.WithLogger(logger.Named(string(id))),
			antstore.WithPaymentVerifier(acceptAll{}),
			antstore.WithChurnConfig(churnCfg),
		}

		if i == 0 {
			options = append(options, antstore.WithManagementHTTP(*mgmtAddr))
		}

		node, err := antstore.NewNode(ctx, sub, persister, options...)
		if err != nil {
			logger.Fatal("building node", zap.Error(err))
		}

		sub.Bind(node.Store())
		sub.PutHandler = node.HandlePut

		if err := node.Start(ctx); err != nil {
			logger.Fatal("starting node", zap.Error(err))
		}

		nodes[id] = node
	}

	clientSub := network.Join("client", store.NewClientStore())
	engine := policy.NewEngine(clientSub, logger.Named("client"))

	content := []byte("hello from the devnet")
	addr := protocol.ChunkAddress(content)

	value, err := protocol.MarshalRecordValue(protocol.KindChunkRecord, content)
	if err != nil {
		logger.Fatal("encoding chunk", zap.Error(err))
	}

	targets, err := clientSub.GetClosestPeers(ctx, addr)
	if err != nil {
		logger.Fatal("finding close group", zap.Error(err))
	}

	var payees []transport.PeerID

	for _, peer := range targets {
		if peer != clientSub.SelfID() {
			payees = append(payees, peer)
		}
	}

	quote, err := nodes[payees[0]].Quote(ctx, addr)
	if err != nil {
		logger.Fatal("requesting quote", zap.Error(err))
	}

	logger.Info("quote received", zap.Uint64("cost", quote.Cost))

	paid, err := payment.WrapWithPayment(protocol.KindChunkWithPayment, payment.ProofOfPayment{
		Quote:    quote,
		Transfer: []byte("devnet-transfer"),
	}, value[protocol.HeaderLen:])
	if err != nil {
		logger.Fatal("wrapping payment", zap.Error(err))
	}

	err = engine.PutRecord(ctx, protocol.Record{Key: addr, Value: paid}, policy.PutRecordCfg{
		Quorum:         policy.QuorumMajority(),
		Retry:          policy.RetryQuick,
		UsePutRecordTo: payees,
	})
	if err != nil {
		logger.Fatal("storing chunk", zap.Error(err))
	}

	got, err := engine.GetRecord(ctx, addr, policy.GetRecordCfg{Quorum: policy.QuorumMajority()})
	if err != nil {
		logger.Fatal("reading chunk back", zap.Error(err))
	}

	logger.Info("chunk stored and read back",
		zap.Stringer("address", addr),
		zap.Int("bytes", len(got.Value)))

	// a late joiner should pick the chunk up through push replication
	lateSub := network.Join("node-late", nil)

	latePersister, err := store.NewDisk(root + "/node-late")
	if err != nil {
		logger.Fatal("opening persister", zap.Error(err))
	}

	late, err := antstore.NewNode(ctx, lateSub, latePersister,
		antstore.WithLogger(logger.Named("node-late")),
		antstore.WithPaymentVerifier(acceptAll{}),
		antstore.WithChurnConfig(churnCfg))
	if err != nil {
		logger.Fatal("building late node", zap.Error(err))
	}

	lateSub.Bind(late.Store())
	lateSub.PutHandler = late.HandlePut

	if err := late.Start(ctx); err != nil {
		logger.Fatal("starting late node", zap.Error(err))
	}

	nodes["node-late"] = late

	go func() {
		for !late.Store().Contains(addr) {
			time.Sleep(500 * time.Millisecond)
		}

		logger.Info("late joiner replicated the chunk", zap.Stringer("address", addr))
	}()

	logger.Info("devnet running",
		zap.Int("nodes", len(nodes)),
		zap.String("mgmt", nodes["node-0"].ManagementAddress()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	for id, node := range nodes {
		if err := node.Stop(shutdownCtx); err != nil {
			logger.Warn("stopping node", zap.String("node", string(id)), zap.Error(err))
		}
	}
}
