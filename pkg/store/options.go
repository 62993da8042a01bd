package store

import (
	"go.uber.org/zap"

	"github.com/maidsafe/antstore/internal/telemetry"
)

// IStoreConstrain bounds the store types the generic options apply to.
type IStoreConstrain interface {
	ClientStore | NodeStore
}

// iConfigurableStore is implemented by stores accepting a logger.
type iConfigurableStore interface {
	setLogger(logger *zap.Logger)
}

func (c *ClientStore) setLogger(logger *zap.Logger) {
	c.logger = logger
}

func (n *NodeStore) setLogger(logger *zap.Logger) {
	n.logger = logger
}

// Option is a function type used to configure a store.
type Option[T IStoreConstrain] func(*T)

// ApplyOptions applies the given options to the given store.
func ApplyOptions[T IStoreConstrain](store *T, options ...Option[T]) {
	for _, option := range options {
		option(store)
	}
}

// WithLogger sets the logger the store reports through.
func WithLogger[T IStoreConstrain](logger *zap.Logger) Option[T] {
	return func(s *T) {
		if configurable, ok := any(s).(iConfigurableStore); ok {
			configurable.setLogger(logger)
		}
	}
}

// WithMaxRecords caps how many verified records the node store holds.
func WithMaxRecords(maxRecords int) Option[NodeStore] {
	return func(n *NodeStore) {
		n.maxRecords = maxRecords
	}
}

// WithMaxValueBytes caps the size of a single record value, header included.
func WithMaxValueBytes(maxValueBytes int) Option[NodeStore] {
	return func(n *NodeStore) {
		n.maxValueBytes = maxValueBytes
	}
}

// WithInstruments sets the telemetry instruments the node store emits on.
func WithInstruments(instruments *telemetry.Instruments) Option[NodeStore] {
	return func(n *NodeStore) {
		n.instruments = instruments
	}
}
