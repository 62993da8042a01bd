// Package policy implements the read/write policy engine: quorum and retry
// configuration for GET and PUT operations against the DHT substrate, and
// the post-write verification modes.
package policy

import (
	"time"

	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/transport"
)

// QuorumKind discriminates quorum policies.
type QuorumKind uint8

const (
	// QuorumKindOne accepts the first agreeing response.
	QuorumKindOne QuorumKind = iota
	// QuorumKindMajority requires more than half of the queried peers.
	QuorumKindMajority
	// QuorumKindAll requires every queried peer.
	QuorumKindAll
	// QuorumKindN requires a fixed number of peers.
	QuorumKindN
)

// Quorum is the minimum number of agreeing responses an operation needs.
type Quorum struct {
	kind QuorumKind
	n    int
}

// QuorumOne accepts a single response.
func QuorumOne() Quorum { return Quorum{kind: QuorumKindOne} }

// QuorumMajority requires a strict majority of the queried peers.
func QuorumMajority() Quorum { return Quorum{kind: QuorumKindMajority} }

// QuorumAll requires every queried peer.
func QuorumAll() Quorum { return Quorum{kind: QuorumKindAll} }

// QuorumN requires exactly n agreeing responses.
func QuorumN(n int) Quorum { return Quorum{kind: QuorumKindN, n: n} }

// Required resolves the quorum against the number of peers queried.
func (q Quorum) Required(total int) int {
	switch q.kind {
	case QuorumKindOne:
		return 1
	case QuorumKindMajority:
		return total/2 + 1
	case QuorumKindAll:
		return total
	case QuorumKindN:
		return q.n
	default:
		return 1
	}
}

// RetryStrategy bounds how often and how patiently an operation is retried.
type RetryStrategy uint8

const (
	// RetryNone gives the operation a single attempt.
	RetryNone RetryStrategy = iota
	// RetryQuick allows a few attempts with short backoff.
	RetryQuick
	// RetryBalanced trades latency for reliability.
	RetryBalanced
	// RetryPersistent keeps trying with long backoff.
	RetryPersistent
)

// Attempts returns the total attempt budget of the strategy.
func (r RetryStrategy) Attempts() int {
	switch r {
	case RetryQuick:
		return 3
	case RetryBalanced:
		return 6
	case RetryPersistent:
		return 10
	default:
		return 1
	}
}

// Backoff returns the pause before the given retry attempt, growing linearly
// with the attempt number.
func (r RetryStrategy) Backoff(attempt int) time.Duration {
	var base time.Duration

	switch r {
	case RetryQuick:
		base = 100 * time.Millisecond
	case RetryBalanced:
		base = 250 * time.Millisecond
	case RetryPersistent:
		base = 500 * time.Millisecond
	default:
		return 0
	}

	return time.Duration(attempt) * base
}

// GetRecordCfg parameterizes a GET issued through the engine.
type GetRecordCfg struct {
	// Quorum is the number of agreeing responses required.
	Quorum Quorum
	// Retry bounds re-attempts after a failed round.
	Retry RetryStrategy
	// TargetRecord, when set, is the value responses must match. Register
	// kinds match on root CRDT state, everything else byte-exact.
	TargetRecord *protocol.Record
	// ExpectedHolders, when non-empty, are peers that should have answered.
	// Missing holders are logged as a node issue, not a failure, as long
	// as quorum is still met.
	ExpectedHolders map[transport.PeerID]struct{}
}

// VerificationKind selects how a PUT is checked after it reports success.
type VerificationKind uint8

const (
	// VerifyNetwork re-fetches and requires a byte-exact match.
	VerifyNetwork VerificationKind = iota
	// VerifyCrdt re-fetches and requires root-state subsumption, tolerating
	// concurrent branches.
	VerifyCrdt
	// VerifyChunkProof challenges holders to hash their stored bytes with a
	// nonce instead of shipping the content back.
	VerifyChunkProof
)

// Verification couples a verification kind with the GET configuration used
// to perform it.
type Verification struct {
	Kind VerificationKind
	Cfg  GetRecordCfg

	// ExpectedProof and Nonce drive VerifyChunkProof.
	ExpectedProof [protocol.NameLen]byte
	Nonce         []byte
}

// PutRecordCfg parameterizes a PUT issued through the engine.
type PutRecordCfg struct {
	// Quorum gates whether the PUT reports success; the write always fans
	// out to the full target set regardless.
	Quorum Quorum
	// Retry bounds re-attempts after a failed round.
	Retry RetryStrategy
	// UsePutRecordTo pins the write to an explicit peer set, used when a
	// payment binds the write to the nodes that quoted it. Empty means the
	// substrate's closest peers.
	UsePutRecordTo []transport.PeerID
	// Verification, when set, re-checks durability after the PUT succeeds.
	// A verification failure is reported, never retried here: a fresh PUT
	// may need a fresh quote.
	Verification *Verification
}
