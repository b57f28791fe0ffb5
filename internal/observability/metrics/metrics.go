package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	billingCycles    metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	balanceMovements metric.Int64Counter
	cashbackCredited metric.Int64Counter
	lifecycleEvents  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "subhub"
	}
	meter := provider.Meter(name)

	billingCycles, err := meter.Int64Counter("subhub_billing_cycles_total",
		metric.WithDescription("Billing cycles by outcome."))
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("subhub_ledger_entries_total",
		metric.WithDescription("Ledger rows written by type and status."))
	if err != nil {
		return nil, err
	}
	balanceMovements, err := meter.Int64Counter("subhub_balance_movements_total",
		metric.WithDescription("Sum of balance debits and credits in minor units."))
	if err != nil {
		return nil, err
	}
	cashbackCredited, err := meter.Int64Counter("subhub_cashback_credited_total",
		metric.WithDescription("Cashback amount credited by settlement."))
	if err != nil {
		return nil, err
	}
	lifecycleEvents, err := meter.Int64Counter("subhub_order_lifecycle_events_total",
		metric.WithDescription("Order lifecycle operations by event and result."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		billingCycles:    billingCycles,
		ledgerEntries:    ledgerEntries,
		balanceMovements: balanceMovements,
		cashbackCredited: cashbackCredited,
		lifecycleEvents:  lifecycleEvents,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordBillingCycle counts one cycle by trigger ("first", "resume", "fire") and outcome.
func (m *Metrics) RecordBillingCycle(ctx context.Context, trigger, outcome, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("trigger", strings.TrimSpace(trigger)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.billingCycles.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, entryType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("entry_type", strings.TrimSpace(entryType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBalanceMovement adds the moved amount under the given direction ("debit" or "credit").
func (m *Metrics) RecordBalanceMovement(ctx context.Context, direction string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("direction", strings.TrimSpace(direction)))
	m.balanceMovements.Add(ctx, amount, metric.WithAttributes(attrs...))
}

// RecordCashbackCredited adds a settled cashback amount.
func (m *Metrics) RecordCashbackCredited(ctx context.Context, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.cashbackCredited.Add(ctx, amount)
}

// RecordLifecycleEvent counts order lifecycle operations.
func (m *Metrics) RecordLifecycleEvent(ctx context.Context, event, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(event)),
		attribute.String("outcome", strings.TrimSpace(result)),
	)
	m.lifecycleEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"trigger":     {},
	"outcome":     {},
	"reason":      {},
	"entry_type":  {},
	"status":      {},
	"direction":   {},
	"event_type":  {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
