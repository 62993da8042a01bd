package payment

import (
	"context"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/protocol"
)

// ProofOfPayment binds a fee transfer to the quote it satisfies. Transfer is
// an opaque descriptor produced by the wallet subsystem; this layer never
// inspects it beyond handing it to the Verifier.
type ProofOfPayment struct {
	Quote    PaymentQuote `msgpack:"quote"`
	Transfer []byte       `msgpack:"transfer"`
}

// Envelope is the payload of *WithPayment record values: the proof travels
// ahead of the domain payload.
type Envelope struct {
	Payment ProofOfPayment `msgpack:"payment"`
	Payload []byte         `msgpack:"payload"`
}

// Verifier settles payment proofs against the external wallet subsystem.
type Verifier interface {
	// VerifyPayment reports whether the proof's transfer actually pays the
	// embedded quote.
	VerifyPayment(ctx context.Context, proof ProofOfPayment) error
}

// Quoter obtains store-cost quotes from remote nodes.
type Quoter interface {
	// RequestQuote fetches a signed quote for storing the content at addr.
	RequestQuote(ctx context.Context, addr protocol.NetworkAddress) (PaymentQuote, error)
}

// WrapWithPayment serializes an already-encoded domain payload behind a
// payment proof under the given *WithPayment kind.
func WrapWithPayment(kind protocol.RecordKind, proof ProofOfPayment, payload []byte) ([]byte, error) {
	if !kind.WithPayment() {
		return nil, ewrap.Wrap(sentinel.ErrInvalidHeader, kind.String())
	}

	return protocol.MarshalRecordValue(kind, Envelope{Payment: proof, Payload: payload})
}

// Unwrap decodes a *WithPayment record value into its proof and payload.
func Unwrap(value []byte) (ProofOfPayment, []byte, error) {
	kind, err := protocol.KindOfValue(value)
	if err != nil {
		return ProofOfPayment{}, nil, err
	}

	if !kind.WithPayment() {
		return ProofOfPayment{}, nil, ewrap.Wrap(sentinel.ErrInvalidHeader, kind.String())
	}

	var env Envelope

	if _, err := protocol.UnmarshalRecordValue(value, &env); err != nil {
		return ProofOfPayment{}, nil, err
	}

	return env.Payment, env.Payload, nil
}

// StripPayment rewrites a *WithPayment value to its unpaid kind, dropping
// the proof. Nodes store the stripped form once payment is collected.
func StripPayment(value []byte) ([]byte, error) {
	kind, err := protocol.KindOfValue(value)
	if err != nil {
		return nil, err
	}

	if !kind.WithPayment() {
		return value, nil
	}

	_, payload, err := Unwrap(value)
	if err != nil {
		return nil, err
	}

	stripped := protocol.KindChunkRecord
	if kind == protocol.KindRegisterWithPayment {
		stripped = protocol.KindRegisterRecord
	}

	out := make([]byte, protocol.HeaderLen+len(payload))
	out[0] = byte(uint16(stripped) >> 8)
	out[1] = byte(uint16(stripped))
	copy(out[protocol.HeaderLen:], payload)

	return out, nil
}

// ValidateProof performs the node-side checks that gate a paid write:
// signature, expiry against now, address binding, and the external transfer
// settlement.
func ValidateProof(ctx context.Context, verifier Verifier, proof ProofOfPayment, addr protocol.NetworkAddress, now time.Time) error {
	if err := proof.Quote.VerifySignature(); err != nil {
		return err
	}

	if proof.Quote.HasExpired(now) {
		return ewrap.Wrap(sentinel.ErrQuoteExpired, addr.String())
	}

	if string(proof.Quote.Content) != string(addr.Bytes()) {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "quote bound to different address")
	}

	if verifier == nil {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, "no payment verifier configured")
	}

	err := verifier.VerifyPayment(ctx, proof)
	if err != nil {
		return ewrap.Wrap(sentinel.ErrPaymentInvalid, err.Error())
	}

	return nil
}
