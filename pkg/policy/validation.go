package policy

import (
	"context"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/payment"
	"github.com/maidsafe/antstore/pkg/protocol"
	"github.com/maidsafe/antstore/pkg/register"
	"github.com/maidsafe/antstore/pkg/store"
)

// PutValidator is the node-side gate in front of the record store: paid
// records settle their proof before storage, register updates merge into the
// held state, and unpaid writes of new data are refused.
type PutValidator struct {
	store    *store.NodeStore
	verifier payment.Verifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewPutValidator creates a validator over the node store and the external
// wallet verifier.
func NewPutValidator(nodeStore *store.NodeStore, verifier payment.Verifier, logger *zap.Logger) *PutValidator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PutValidator{
		store:    nodeStore,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
	}
}

// ValidatePut judges an incoming PUT and, when acceptable, stores it. Paid
// records are stored stripped of their proof; the payment counters feed the
// node's future quotes.
func (v *PutValidator) ValidatePut(ctx context.Context, record protocol.Record) error {
	kind, err := protocol.KindOfValue(record.Value)
	if err != nil {
		return err
	}

	if !kind.WithPayment() {
		// Unpaid writes may only restate content already held; fresh data
		// arrives either paid or through the replication path, which talks
		// to the store directly.
		if !v.store.Contains(record.Key) {
			return ewrap.Wrap(sentinel.ErrPaymentInvalid, "unpaid record for unheld key")
		}

		return v.store.Put(ctx, record)
	}

	proof, _, err := payment.Unwrap(record.Value)
	if err != nil {
		return err
	}

	err = payment.ValidateProof(ctx, v.verifier, proof, record.Key, v.now())
	if err != nil {
		return err
	}

	v.store.PaymentReceived(ctx)

	stripped, err := payment.StripPayment(record.Value)
	if err != nil {
		return err
	}

	if kind.IsRegister() {
		stripped, err = v.mergeWithHeld(ctx, record.Key, stripped)
		if err != nil {
			return err
		}
	}

	recordType, err := protocol.TypeOfRecord(stripped)
	if err != nil {
		return err
	}

	v.logger.Info("accepted paid record",
		zap.Stringer("key", record.Key),
		zap.Stringer("kind", kind),
		zap.Uint64("cost", proof.Quote.Cost))

	return v.store.PutVerified(ctx, protocol.Record{Key: record.Key, Value: stripped}, recordType)
}

// mergeWithHeld folds an incoming register into the state already held at
// key, if any. A new value at the same key is a merge, never an overwrite.
func (v *PutValidator) mergeWithHeld(ctx context.Context, key protocol.NetworkAddress, incoming []byte) ([]byte, error) {
	existing, ok := v.store.Get(ctx, key)
	if !ok {
		return incoming, nil
	}

	held, err := register.FromValue(existing.Value)
	if err != nil {
		// Held state no longer decodes; the incoming value replaces it.
		return incoming, nil
	}

	update, err := register.FromValue(incoming)
	if err != nil {
		return nil, err
	}

	err = held.Merge(update)
	if err != nil {
		return nil, err
	}

	return held.MarshalValue(protocol.KindRegisterRecord)
}
