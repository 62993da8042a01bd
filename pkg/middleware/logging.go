// Package middleware provides wrappers around the policy engine service
// surface: execution time logging for debugging, and OpenTelemetry call
// counters for monitoring.
package middleware

import (
	"context"
	"time"

	"github.com/maidsafe/antstore/pkg/policy"
	"github.com/maidsafe/antstore/pkg/protocol"
)

// Service is the record operation surface the middlewares wrap. The policy
// engine implements it.
type Service interface {
	// GetRecord fetches the record at key under the given configuration.
	GetRecord(ctx context.Context, key protocol.NetworkAddress, cfg policy.GetRecordCfg) (protocol.Record, error)
	// PutRecord stores a record under the given configuration.
	PutRecord(ctx context.Context, record protocol.Record, cfg policy.PutRecordCfg) error
}

// Logger describes a logging interface allowing to implement different external, or custom logger.
// Tested with Uber's Zap sugared logger, but should work with any other logger that matches the interface.
type Logger interface {
	Printf(format string, v ...any)
}

// LoggingMiddleware logs every operation and the time it took.
// Must implement the Service interface.
type LoggingMiddleware struct {
	next   Service
	logger Logger
}

// NewLoggingMiddleware returns a new LoggingMiddleware.
func NewLoggingMiddleware(next Service, logger Logger) Service {
	return &LoggingMiddleware{next: next, logger: logger}
}

// GetRecord logs the time it takes to execute the wrapped GetRecord.
func (mw LoggingMiddleware) GetRecord(ctx context.Context, key protocol.NetworkAddress, cfg policy.GetRecordCfg) (protocol.Record, error) {
	defer func(begin time.Time) {
		mw.logger.Printf("method GetRecord took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("GetRecord method invoked with key: %s", key)

	return mw.next.GetRecord(ctx, key, cfg)
}

// PutRecord logs the time it takes to execute the wrapped PutRecord.
func (mw LoggingMiddleware) PutRecord(ctx context.Context, record protocol.Record, cfg policy.PutRecordCfg) error {
	defer func(begin time.Time) {
		mw.logger.Printf("method PutRecord took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("PutRecord method invoked with key: %s", record.Key)

	return mw.next.PutRecord(ctx, record, cfg)
}
