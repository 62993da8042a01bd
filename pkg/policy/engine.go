package policy

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hyp3rd/ewrap"
	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/register"
	"github.com/maidsafe/antstore/pkg/transport"
)

// matchFunc decides whether a fetched record satisfies a target.
type matchFunc func(target, got protocol.Record) bool

// Engine executes quorum reads and writes against the substrate. It holds no
// record bytes beyond the scope of a single operation.
type Engine struct {
	substrate transport.Substrate
	logger    *zap.Logger
}

// NewEngine creates a policy engine over the given substrate.
func NewEngine(substrate transport.Substrate, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{substrate: substrate, logger: logger}
}

// GetRecord fetches the record at key under the given configuration,
// retrying per the strategy until quorum and target matching are satisfied.
func (e *Engine) GetRecord(ctx context.Context, key protocol.NetworkAddress, cfg GetRecordCfg) (protocol.Record, error) {
	return e.getRecord(ctx, key, cfg, getMatch)
}

func (e *Engine) getRecord(ctx context.Context, key protocol.NetworkAddress, cfg GetRecordCfg, match matchFunc) (protocol.Record, error) {
	var lastErr error

	for attempt := 0; attempt < cfg.Retry.Attempts(); attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, cfg.Retry.Backoff(attempt)); err != nil {
				return protocol.Record{}, err
			}
		}

		record, err := e.getOnce(ctx, key, cfg, match)
		if err == nil {
			return record, nil
		}

		lastErr = err

		if errors.Is(err, sentinel.ErrTimeoutOrCanceled) {
			break
		}

		e.logger.Debug("get round failed",
			zap.Stringer("key", key),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return protocol.Record{}, lastErr
}

// getOnce runs a single quorum round: query the close group, bucket the
// answers by value, and judge quorum plus target matching.
func (e *Engine) getOnce(ctx context.Context, key protocol.NetworkAddress, cfg GetRecordCfg, match matchFunc) (protocol.Record, error) {
	peers, err := e.substrate.GetClosestPeers(ctx, key)
	if err != nil {
		return protocol.Record{}, classifySubstrateErr(ctx, err)
	}

	if len(peers) == 0 {
		return protocol.Record{}, ewrap.Wrap(sentinel.ErrSubstrateUnavailable, "no peers for key")
	}

	type answer struct {
		peer   transport.PeerID
		record protocol.Record
		err    error
	}

	answers := make([]answer, len(peers))

	var wg sync.WaitGroup

	for i, peer := range peers {
		wg.Add(1)

		go func(i int, peer transport.PeerID) {
			defer wg.Done()

			record, err := e.substrate.GetRecord(ctx, peer, key)
			answers[i] = answer{peer: peer, record: record, err: err}
		}(i, peer)
	}

	wg.Wait()

	responded := make(map[transport.PeerID]struct{}, len(peers))
	counts := make(map[uint64]int)
	values := make(map[uint64]protocol.Record)

	// Bucketing is local to this round, so a fast non-cryptographic hash
	// is enough to group identical answers.
	for _, a := range answers {
		if a.err != nil {
			continue
		}

		responded[a.peer] = struct{}{}

		digest := xxhash.Sum64(a.record.Value)
		counts[digest]++
		values[digest] = a.record
	}

	for holder := range cfg.ExpectedHolders {
		if _, ok := responded[holder]; !ok {
			// A quiet churn signal, not a failure, while quorum holds.
			e.logger.Warn("expected holder did not answer",
				zap.String("holder", string(holder)),
				zap.Stringer("key", key))
		}
	}

	required := cfg.Quorum.Required(len(peers))
	quorumMet := false

	for digest, count := range counts {
		if count < required {
			continue
		}

		quorumMet = true

		candidate := values[digest]
		if cfg.TargetRecord == nil || match(*cfg.TargetRecord, candidate) {
			return candidate, nil
		}
	}

	if quorumMet {
		return protocol.Record{}, ewrap.Wrap(sentinel.ErrNoMatchingRecord, key.String())
	}

	return protocol.Record{}, ewrap.Wrap(sentinel.ErrQuorumNotMet, key.String())
}

// PutRecord fans the record out to its target peers and reports success once
// quorum acknowledges, then runs the configured post-write verification.
func (e *Engine) PutRecord(ctx context.Context, record protocol.Record, cfg PutRecordCfg) error {
	targets := cfg.UsePutRecordTo

	if len(targets) == 0 {
		var err error

		targets, err = e.substrate.GetClosestPeers(ctx, record.Key)
		if err != nil {
			return classifySubstrateErr(ctx, err)
		}
	}

	if len(targets) == 0 {
		return ewrap.Wrap(sentinel.ErrSubstrateUnavailable, "no peers for key")
	}

	var lastErr error

	for attempt := 0; attempt < cfg.Retry.Attempts(); attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, cfg.Retry.Backoff(attempt)); err != nil {
				return err
			}
		}

		lastErr = e.putOnce(ctx, record, targets, cfg.Quorum)
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		return lastErr
	}

	if cfg.Verification == nil {
		return nil
	}

	return e.verify(ctx, record, targets, *cfg.Verification)
}

func (e *Engine) putOnce(ctx context.Context, record protocol.Record, targets []transport.PeerID, quorum Quorum) error {
	acks := make([]bool, len(targets))

	var wg sync.WaitGroup

	// The write always fans out to every target; quorum only gates the
	// result reported to the caller.
	for i, peer := range targets {
		wg.Add(1)

		go func(i int, peer transport.PeerID) {
			defer wg.Done()

			err := e.substrate.PutRecord(ctx, peer, record)
			if err != nil {
				e.logger.Debug("put to peer failed",
					zap.String("peer", string(peer)),
					zap.Error(err))

				return
			}

			acks[i] = true
		}(i, peer)
	}

	wg.Wait()

	succeeded := 0

	for _, ok := range acks {
		if ok {
			succeeded++
		}
	}

	if succeeded < quorum.Required(len(targets)) {
		return ewrap.Wrap(sentinel.ErrQuorumNotMet, record.Key.String())
	}

	return nil
}

// verify re-checks durability after a successful PUT. Failures are reported,
// never retried here: a second PUT may need a fresh quote.
func (e *Engine) verify(ctx context.Context, record protocol.Record, targets []transport.PeerID, verification Verification) error {
	if verification.Kind == VerifyChunkProof {
		return e.verifyChunkProof(ctx, record.Key, targets, verification)
	}

	cfg := verification.Cfg
	if cfg.TargetRecord == nil {
		cfg.TargetRecord = &record
	}

	match := networkMatch
	if verification.Kind == VerifyCrdt {
		match = crdtMatch
	}

	_, err := e.getRecord(ctx, record.Key, cfg, match)
	if err != nil {
		return ewrap.Wrap(sentinel.ErrVerificationFailed, err.Error())
	}

	return nil
}

// verifyChunkProof challenges the holders to hash their stored bytes with
// the nonce, comparing against the expected proof without re-downloading.
func (e *Engine) verifyChunkProof(ctx context.Context, key protocol.NetworkAddress, targets []transport.PeerID, verification Verification) error {
	required := verification.Cfg.Quorum.Required(len(targets))
	matched := 0

	for _, peer := range targets {
		answer, err := e.substrate.ChunkProofChallenge(ctx, peer, key, verification.Nonce)
		if err != nil {
			continue
		}

		if answer == verification.ExpectedProof {
			matched++
		}

		if matched >= required {
			return nil
		}
	}

	return ewrap.Wrap(sentinel.ErrVerificationFailed, key.String())
}

// getMatch is the GET target rule: register kinds compare root CRDT state,
// everything else byte-exact.
func getMatch(target, got protocol.Record) bool {
	if isRegisterValue(target.Value) && isRegisterValue(got.Value) {
		return rootsEqual(target.Value, got.Value)
	}

	return bytes.Equal(target.Value, got.Value)
}

// networkMatch requires byte identity regardless of kind.
func networkMatch(target, got protocol.Record) bool {
	return bytes.Equal(target.Value, got.Value)
}

// crdtMatch tolerates concurrent branches: the fetched register must carry
// every operation of the target, extra ones never fail the match.
func crdtMatch(target, got protocol.Record) bool {
	if !isRegisterValue(target.Value) || !isRegisterValue(got.Value) {
		return bytes.Equal(target.Value, got.Value)
	}

	targetReg, err := register.FromValue(target.Value)
	if err != nil {
		return false
	}

	gotReg, err := register.FromValue(got.Value)
	if err != nil {
		return false
	}

	return register.Subsumes(gotReg, targetReg)
}

func isRegisterValue(value []byte) bool {
	kind, err := protocol.KindOfValue(value)

	return err == nil && kind.IsRegister()
}

func rootsEqual(a, b []byte) bool {
	rootA, err := register.RootOfValue(a)
	if err != nil {
		return false
	}

	rootB, err := register.RootOfValue(b)
	if err != nil {
		return false
	}

	return rootA == rootB
}

// classifySubstrateErr keeps cancellation distinct from transport failure,
// so the retry loop stops instead of burning attempts against a dead context.
func classifySubstrateErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, sentinel.ErrTimeoutOrCanceled) {
		return ewrap.Wrap(sentinel.ErrTimeoutOrCanceled, err.Error())
	}

	return ewrap.Wrap(sentinel.ErrSubstrateUnavailable, err.Error())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ewrap.Wrap(sentinel.ErrTimeoutOrCanceled, ctx.Err().Error())
	case <-timer.C:
		return nil
	}
}
