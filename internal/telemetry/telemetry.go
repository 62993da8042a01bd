// Package telemetry defines the OpenTelemetry instruments shared by the
// record store, churn controller and payment gate. Instruments are created
// once from a caller-supplied meter; a no-op meter keeps every call site
// unconditional.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/hyp3rd/ewrap"
)

// Instruments bundles the counters and gauges emitted by antstore components.
type Instruments struct {
	RecordsStored     metric.Int64UpDownCounter
	QuotesIssued      metric.Int64Counter
	PaymentsReceived  metric.Int64Counter
	ReplicationPushes metric.Int64Counter
	ReplicationPulls  metric.Int64Counter
	SybilChecks       metric.Int64Counter
}

// New creates the instrument set from the provided meter.
func New(meter metric.Meter) (*Instruments, error) {
	records, err := meter.Int64UpDownCounter("antstore.records.stored")
	if err != nil {
		return nil, ewrap.Wrap(err, "create records counter")
	}

	quotes, err := meter.Int64Counter("antstore.quotes.issued")
	if err != nil {
		return nil, ewrap.Wrap(err, "create quotes counter")
	}

	payments, err := meter.Int64Counter("antstore.payments.received")
	if err != nil {
		return nil, ewrap.Wrap(err, "create payments counter")
	}

	pushes, err := meter.Int64Counter("antstore.replication.pushes")
	if err != nil {
		return nil, ewrap.Wrap(err, "create pushes counter")
	}

	pulls, err := meter.Int64Counter("antstore.replication.pulls")
	if err != nil {
		return nil, ewrap.Wrap(err, "create pulls counter")
	}

	sybil, err := meter.Int64Counter("antstore.sybil.checks")
	if err != nil {
		return nil, ewrap.Wrap(err, "create sybil counter")
	}

	return &Instruments{
		RecordsStored:     records,
		QuotesIssued:      quotes,
		PaymentsReceived:  payments,
		ReplicationPushes: pushes,
		ReplicationPulls:  pulls,
		SybilChecks:       sybil,
	}, nil
}

// Noop returns an instrument set backed by the no-op meter.
func Noop() *Instruments {
	inst, _ := New(noop.NewMeterProvider().Meter("antstore"))

	return inst
}

// AddFlagged records a sybil check outcome with its flagged attribute.
func (i *Instruments) AddFlagged(ctx context.Context, flagged bool) {
	i.SybilChecks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("flagged", flagged)))
}
