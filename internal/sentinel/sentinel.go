// Package sentinel provides standardized error definitions for the antstore system.
// This package centralizes the error taxonomy used across the storage, policy,
// payment and replication components, ensuring consistent error handling and
// messaging throughout the application.
//
// All errors are created using the ewrap package to provide enhanced error
// wrapping and context capabilities.
package sentinel

import (
	"github.com/hyp3rd/ewrap"
)

var (
	// ErrAddressing is returned when a key is malformed or does not match the
	// record it claims to address.
	ErrAddressing = ewrap.New("malformed or mismatched network address")

	// ErrInvalidHeader is returned when a record value is too short to carry a
	// header or the header tag does not decode to a known record kind.
	ErrInvalidHeader = ewrap.New("record header is incorrect")

	// ErrNotFound is returned when a record is not held locally.
	ErrNotFound = ewrap.New("record not found locally")

	// ErrQuorumNotMet is returned when a GET or PUT completed without enough
	// agreeing responses to satisfy the configured quorum.
	ErrQuorumNotMet = ewrap.New("not enough copies to satisfy quorum")

	// ErrNoMatchingRecord is returned when quorum was met but no returned value
	// matched the configured target record.
	ErrNoMatchingRecord = ewrap.New("no returned record matches the target")

	// ErrVerificationFailed is returned when post-write verification did not
	// confirm the record's durability.
	ErrVerificationFailed = ewrap.New("post-write verification failed")

	// ErrQuoteExpired is returned when the payment quote embedded in a record
	// has passed its expiration window.
	ErrQuoteExpired = ewrap.New("payment quote has expired")

	// ErrPaymentInvalid is returned when a proof of payment does not satisfy
	// the quote it claims to pay.
	ErrPaymentInvalid = ewrap.New("payment proof is invalid")

	// ErrStoreFull is returned when the record store has reached capacity and
	// the incoming record is not closer than what is already held.
	ErrStoreFull = ewrap.New("record store is full")

	// ErrStoreCorrupt is returned when a persisted record fails to
	// deserialize. The store self-heals by deleting the entry.
	ErrStoreCorrupt = ewrap.New("persisted record is corrupt")

	// ErrSubstrateUnavailable is returned on transport-level failures talking
	// to the DHT substrate. Always retryable per the configured strategy.
	ErrSubstrateUnavailable = ewrap.New("dht substrate unavailable")

	// ErrValueTooLarge is returned when a record value exceeds the store's
	// configured maximum.
	ErrValueTooLarge = ewrap.New("record value too large")

	// ErrInvalidCapacity is returned when an invalid capacity is configured.
	ErrInvalidCapacity = ewrap.New("capacity cannot be negative")

	// ErrNilClient is returned when a nil client is passed to a component
	// that requires one.
	ErrNilClient = ewrap.New("nil client")

	// ErrSerializerNotFound is returned when a serializer is not registered.
	ErrSerializerNotFound = ewrap.New("serializer not found")

	// ErrParamCannotBeEmpty is returned when a required parameter is empty.
	ErrParamCannotBeEmpty = ewrap.New("param cannot be empty")

	// ErrPeerNotFound is returned by the in-process substrate when a peer id
	// is not registered.
	ErrPeerNotFound = ewrap.New("peer not found")

	// ErrTimeoutOrCanceled is returned when a timeout or cancellation occurs.
	ErrTimeoutOrCanceled = ewrap.New("the operation timed out or was canceled")

	// ErrMgmtHTTPShutdownTimeout is returned when the management HTTP server
	// fails to shut down before the context deadline.
	ErrMgmtHTTPShutdownTimeout = ewrap.New("management http shutdown timeout")
)
