package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "charged"),
		attribute.String("user_id", "456"),
		attribute.String("order_id", "789"),
		attribute.String("reason", "insufficient_funds"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "outcome" || attrs[1].Key != "reason" {
		t.Fatalf("unexpected attributes retained: %v", attrs)
	}
}

func TestMetrics_RecordBillingCycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "subhub"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordBillingCycle(ctx, "fire", "charged", "")
	m.RecordBillingCycle(ctx, "fire", "charged", "")
	m.RecordCashbackCredited(ctx, 75)
	m.RecordCashbackCredited(ctx, 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, item := range scope.Metrics {
			sum, ok := item.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				totals[item.Name] += point.Value
			}
		}
	}
	assert.Equal(t, int64(2), totals["subhub_billing_cycles_total"])
	assert.Equal(t, int64(75), totals["subhub_cashback_credited_total"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordBillingCycle(context.Background(), "first", "charged", "")
	m.RecordLedgerEntry(context.Background(), "DEBIT", "PAID")
	m.RecordLifecycleEvent(context.Background(), "order.created", "ok")
}
