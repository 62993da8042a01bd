package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/maidsafe/antstore/pkg/policy"
	"github.com/maidsafe/antstore/pkg/protocol"
)

// OtelMetricsMiddleware counts operations and failures per method.
// Must implement the Service interface.
type OtelMetricsMiddleware struct {
	next   Service
	calls  metric.Int64Counter
	errors metric.Int64Counter
}

// NewOtelMetricsMiddleware builds the middleware from a meter.
func NewOtelMetricsMiddleware(next Service, meter metric.Meter) (Service, error) {
	calls, err := meter.Int64Counter("antstore.engine.calls")
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("antstore.engine.errors")
	if err != nil {
		return nil, err
	}

	return &OtelMetricsMiddleware{next: next, calls: calls, errors: failures}, nil
}

// GetRecord counts the call and its outcome.
func (mw *OtelMetricsMiddleware) GetRecord(ctx context.Context, key protocol.NetworkAddress, cfg policy.GetRecordCfg) (protocol.Record, error) {
	mw.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "GetRecord")))

	record, err := mw.next.GetRecord(ctx, key, cfg)
	if err != nil {
		mw.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "GetRecord")))
	}

	return record, err
}

// PutRecord counts the call and its outcome.
func (mw *OtelMetricsMiddleware) PutRecord(ctx context.Context, record protocol.Record, cfg policy.PutRecordCfg) error {
	mw.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "PutRecord")))

	err := mw.next.PutRecord(ctx, record, cfg)
	if err != nil {
		mw.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "PutRecord")))
	}

	return err
}
