package antstore

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maidsafe/antstore/pkg/churn"
	"github.com/maidsafe/antstore/pkg/payment"
	"github.com/maidsafe/antstore/pkg/policy"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/store"
	"github.com/maidsafe/antstore/pkg/transport"
)

type acceptAllVerifier struct{}

func (acceptAllVerifier) VerifyPayment(context.Context, payment.ProofOfPayment) error {
	return nil
}

// startNode joins a full node to the in-process network and runs it with a
// fast churn cadence so replication shows up within test timeouts.
func startNode(t *testing.T, ctx context.Context, network *transport.InProcessNetwork, id transport.PeerID, options ...Option) *Node {
	t.Helper()

	sub := network.Join(id, nil)

	persister, err := store.NewDisk(t.TempDir())
	require.NoError(t, err)

	options = append([]Option{
		WithPaymentVerifier(acceptAllVerifier{}),
		WithChurnConfig(churn.ControllerConfig{
			LocalScanInterval:   20 * time.Millisecond,
			NetworkScanInterval: time.Second,
			BatchSize:           64,
		}),
	}, options...)

	node, err := NewNode(ctx, sub, persister, options...)
	require.NoError(t, err)

	sub.Bind(node.Store())
	sub.PutHandler = node.HandlePut

	require.NoError(t, node.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = node.Stop(stopCtx)
	})

	return node
}

// TestPaidPutGetAndChurnReplication walks the full write path: quote a node,
// pay, PUT through the policy engine, read it back, then verify a late
// joiner receives the chunk through push replication.
func TestPaidPutGetAndChurnReplication(t *testing.T) {
	ctx := context.Background()
	network := transport.NewInProcessNetwork()

	nodes := make(map[transport.PeerID]*Node, 4)

	for _, id := range []transport.PeerID{"node-0", "node-1", "node-2", "node-3"} {
		nodes[id] = startNode(t, ctx, network, id)
	}

	clientSub := network.Join("client", store.NewClientStore())
	engine := policy.NewEngine(clientSub, nil)

	content := []byte("integration chunk")
	addr := protocol.ChunkAddress(content)

	value, err := protocol.MarshalRecordValue(protocol.KindChunkRecord, content)
	require.NoError(t, err)

	targets, err := clientSub.GetClosestPeers(ctx, addr)
	require.NoError(t, err)

	var payees []transport.PeerID

	for _, peer := range targets {
		if peer != "client" {
			payees = append(payees, peer)
		}
	}

	require.Len(t, payees, 4)

	quote, err := nodes[payees[0]].Quote(ctx, addr)
	require.NoError(t, err)
	require.GreaterOrEqual(t, quote.Cost, uint64(10))
	require.NoError(t, quote.VerifySignature())

	paid, err := payment.WrapWithPayment(protocol.KindChunkWithPayment, payment.ProofOfPayment{
		Quote:    quote,
		Transfer: []byte("tx-1"),
	}, value[protocol.HeaderLen:])
	require.NoError(t, err)

	err = engine.PutRecord(ctx, protocol.Record{Key: addr, Value: paid}, policy.PutRecordCfg{
		Quorum:         policy.QuorumAll(),
		UsePutRecordTo: payees,
	})
	require.NoError(t, err)

	stored := protocol.Record{Key: addr, Value: value}

	got, err := engine.GetRecord(ctx, addr, policy.GetRecordCfg{
		Quorum:       policy.QuorumMajority(),
		TargetRecord: &stored,
	})
	require.NoError(t, err)
	require.Equal(t, value, got.Value)

	// every payee collected the payment and holds the stripped record
	for _, peer := range payees {
		require.True(t, nodes[peer].Store().Contains(addr))
		require.Equal(t, uint64(1), nodes[peer].Store().Metrics().ReceivedPaymentCount)
	}

	newcomer := startNode(t, ctx, network, "node-new")

	require.Eventually(t, func() bool {
		return newcomer.Store().Contains(addr)
	}, 3*time.Second, 25*time.Millisecond, "newcomer never received the chunk")
}

// TestNodeManagementEndpoint starts a node with the operator HTTP surface
// and checks health plus the network size estimate fed by probe samples.
func TestNodeManagementEndpoint(t *testing.T) {
	ctx := context.Background()
	network := transport.NewInProcessNetwork()

	node := startNode(t, ctx, network, "mgmt-node", WithManagementHTTP("127.0.0.1:0"))

	// wait briefly for listener
	time.Sleep(30 * time.Millisecond)

	addr := node.ManagementAddress()
	require.NotEmpty(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get("http://" + addr + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// the size estimate needs probe samples first
	resp, err = client.Get("http://" + addr + "/network")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	for probe := 0; probe < 4; probe++ {
		group := make([]transport.PeerID, 0, 8)
		for i := 0; i < 8; i++ {
			group = append(group, transport.PeerID(fmt.Sprintf("probe-%d-peer-%d", probe, i)))
		}

		node.RecordProbe(protocol.PeerAddress([]byte(fmt.Sprintf("probe-%d", probe))), group)
	}

	resp, err = client.Get("http://" + addr + "/network")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

// TestNeighborhoodCheck drives the sybil surface through the facade.
func TestNeighborhoodCheck(t *testing.T) {
	ctx := context.Background()
	network := transport.NewInProcessNetwork()

	node := startNode(t, ctx, network, "detector-node")

	target := protocol.PeerAddress([]byte("target"))

	_, err := node.CheckNeighborhood(ctx, target, []transport.PeerID{"a", "b"})
	require.Error(t, err, "check must fail before any probe is recorded")

	for probe := 0; probe < 8; probe++ {
		group := make([]transport.PeerID, 0, 8)
		for i := 0; i < 8; i++ {
			group = append(group, transport.PeerID(fmt.Sprintf("sample-%d-%d", probe, i)))
		}

		node.RecordProbe(protocol.PeerAddress([]byte(fmt.Sprintf("sample-%d", probe))), group)
	}

	group := make([]transport.PeerID, 0, 8)
	for i := 0; i < 8; i++ {
		group = append(group, transport.PeerID(fmt.Sprintf("close-%d", i)))
	}

	result, err := node.CheckNeighborhood(ctx, target, group)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.NetworkSize, 8.0)
}
