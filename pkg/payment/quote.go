// Package payment holds the quoting and payment-proof shapes exchanged
// around a store operation: the node-local QuotingMetrics snapshot, the
// signed time-limited PaymentQuote, and the ProofOfPayment attached to
// records carrying payment. Wallet cryptography stays external behind the
// Verifier interface.
package payment

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/libs/serializer"
	"github.com/maidsafe/antstore/internal/sentinel"
)

const (
	// QuoteExpirationSecs is how long a quote stays valid after issuance.
	QuoteExpirationSecs = 3600

	// LiveTimeMarginSecs bounds the allowed drift between the live-time
	// delta and the timestamp delta when verifying quote history.
	LiveTimeMarginSecs = 10
)

// QuotingMetrics is a node's local load snapshot. It is recomputed
// continuously and only ever leaves the node embedded, signed, inside a
// PaymentQuote.
type QuotingMetrics struct {
	RecordsStored        uint64 `msgpack:"records_stored"`
	MaxRecords           uint64 `msgpack:"max_records"`
	ReceivedPaymentCount uint64 `msgpack:"received_payment_count"`
	LiveTime             uint64 `msgpack:"live_time"`
}

// PaymentQuote is a node-signed, time-limited price commitment for storing
// the content at a given address. Content is the canonical address bytes.
type PaymentQuote struct {
	Content   []byte         `msgpack:"content"`
	Cost      uint64         `msgpack:"cost"`
	Timestamp int64          `msgpack:"timestamp"`
	Metrics   QuotingMetrics `msgpack:"quoting_metrics"`
	PubKey    []byte         `msgpack:"pub_key"`
	Signature []byte         `msgpack:"signature"`
}

// NewQuote assembles an unsigned quote stamped with the current time.
func NewQuote(content []byte, cost uint64, metrics QuotingMetrics) PaymentQuote {
	return PaymentQuote{
		Content:   content,
		Cost:      cost,
		Timestamp: time.Now().Unix(),
		Metrics:   metrics,
	}
}

// SignableBytes returns the byte string the quote signature covers:
// content, cost, timestamp (little-endian seconds) and the serialized
// quoting metrics. The layout is wire-visible and must not change.
func (q PaymentQuote) SignableBytes() ([]byte, error) {
	ser, err := serializer.New("msgpack")
	if err != nil {
		return nil, err
	}

	metrics, err := ser.Marshal(q.Metrics)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(q.Content)+16+len(metrics))
	buf = append(buf, q.Content...)
	buf = binary.LittleEndian.AppendUint64(buf, q.Cost)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(q.Timestamp))
	buf = append(buf, metrics...)

	return buf, nil
}

// Sign signs the quote with the issuing node's key and records the public
// key alongside the signature.
func (q *PaymentQuote) Sign(priv ed25519.PrivateKey) error {
	msg, err := q.SignableBytes()
	if err != nil {
		return err
	}

	q.PubKey = []byte(priv.Public().(ed25519.PublicKey))
	q.Signature = ed25519.Sign(priv, msg)

	return nil
}

// VerifySignature checks the quote against its embedded public key.
func (q PaymentQuote) VerifySignature() error {
	if len(q.PubKey) != ed25519.PublicKeySize {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "quote public key malformed")
	}

	msg, err := q.SignableBytes()
	if err != nil {
		return err
	}

	if !ed25519.Verify(ed25519.PublicKey(q.PubKey), msg, q.Signature) {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "quote signature invalid")
	}

	return nil
}

// HasExpired reports whether the quote is older than QuoteExpirationSecs.
func (q PaymentQuote) HasExpired(now time.Time) bool {
	return now.Unix()-q.Timestamp > QuoteExpirationSecs
}

// IsNewerThan reports whether q was issued after other.
func (q PaymentQuote) IsNewerThan(other PaymentQuote) bool {
	return q.Timestamp > other.Timestamp
}

// HistoricalVerify checks that q is a plausible successor of an older quote
// from the same node: live time and payment count must be monotonic, and the
// live-time delta must track the timestamp delta within the margin.
func (q PaymentQuote) HistoricalVerify(old PaymentQuote) error {
	if !q.IsNewerThan(old) {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "quote not newer than history")
	}

	if q.Metrics.LiveTime <= old.Metrics.LiveTime {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "live time not monotonic")
	}

	if q.Metrics.ReceivedPaymentCount < old.Metrics.ReceivedPaymentCount {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "payment count regressed")
	}

	elapsed := uint64(q.Timestamp - old.Timestamp)
	lived := q.Metrics.LiveTime - old.Metrics.LiveTime

	var drift uint64
	if lived > elapsed {
		drift = lived - elapsed
	} else {
		drift = elapsed - lived
	}

	if drift > LiveTimeMarginSecs {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "live time drifts from timestamps")
	}

	return nil
}
