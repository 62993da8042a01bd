package middleware

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/maidsafe/antstore/pkg/policy"
	"github.com/maidsafe/antstore/pkg/protocol"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, _ ...any) {
	l.lines = append(l.lines, format)
}

type stubService struct {
	record protocol.Record
}

func (s stubService) GetRecord(context.Context, protocol.NetworkAddress, policy.GetRecordCfg) (protocol.Record, error) {
	return s.record, nil
}

func (s stubService) PutRecord(context.Context, protocol.Record, policy.PutRecordCfg) error {
	return nil
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	value, err := protocol.MarshalRecordValue(protocol.KindChunkRecord, []byte("x"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	record := protocol.Record{Key: protocol.ChunkAddress([]byte("x")), Value: value}
	logger := &recordingLogger{}

	svc := NewLoggingMiddleware(stubService{record: record}, logger)

	got, err := svc.GetRecord(context.Background(), record.Key, policy.GetRecordCfg{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if string(got.Value) != string(record.Value) {
		t.Fatal("middleware must pass the record through unchanged")
	}

	if err := svc.PutRecord(context.Background(), record, policy.PutRecordCfg{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	joined := strings.Join(logger.lines, "\n")
	if !strings.Contains(joined, "GetRecord") || !strings.Contains(joined, "PutRecord") {
		t.Fatalf("expected both methods logged, got %q", joined)
	}
}

func TestOtelMetricsMiddlewarePassesThrough(t *testing.T) {
	svc, err := NewOtelMetricsMiddleware(stubService{}, noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("new middleware: %v", err)
	}

	if _, err := svc.GetRecord(context.Background(), protocol.NetworkAddress{}, policy.GetRecordCfg{}); err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := svc.PutRecord(context.Background(), protocol.Record{}, policy.PutRecordCfg{}); err != nil {
		t.Fatalf("put: %v", err)
	}
}
