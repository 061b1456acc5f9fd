package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("method", "cash"),
		attribute.String("order_id", "456"),
		attribute.String("status", "paid"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "order_id" {
			t.Fatalf("expected order_id to be dropped")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOrderCreated(context.Background(), "dine_in")
	m.RecordPayment(context.Background(), "cash", "paid")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "tillpoint"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordOrderTransition(context.Background(), "pending", "confirmed")
	m.RecordLedgerEntry(context.Background(), "payment")
}
