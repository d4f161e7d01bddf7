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

// Metrics exposes pipeline-level instruments.
type Metrics struct {
	rowsClassified metric.Int64Counter
	eventsWritten  metric.Int64Counter
	eventsSkipped  metric.Int64Counter
	filesProcessed metric.Int64Counter
	fxFallbacks    metric.Int64Counter
	warehouseFacts metric.Int64Counter
	payoutRuns     metric.Int64Counter
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
		name = "royaltyledger"
	}
	meter := provider.Meter(name)

	rowsClassified, err := meter.Int64Counter("royaltyledger_rows_classified_total")
	if err != nil {
		return nil, err
	}
	eventsWritten, err := meter.Int64Counter("royaltyledger_events_written_total")
	if err != nil {
		return nil, err
	}
	eventsSkipped, err := meter.Int64Counter("royaltyledger_events_already_present_total")
	if err != nil {
		return nil, err
	}
	filesProcessed, err := meter.Int64Counter("royaltyledger_files_processed_total")
	if err != nil {
		return nil, err
	}
	fxFallbacks, err := meter.Int64Counter("royaltyledger_fx_fallback_total")
	if err != nil {
		return nil, err
	}
	warehouseFacts, err := meter.Int64Counter("royaltyledger_warehouse_facts_total")
	if err != nil {
		return nil, err
	}
	payoutRuns, err := meter.Int64Counter("royaltyledger_payout_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		rowsClassified: rowsClassified,
		eventsWritten:  eventsWritten,
		eventsSkipped:  eventsSkipped,
		filesProcessed: filesProcessed,
		fxFallbacks:    fxFallbacks,
		warehouseFacts: warehouseFacts,
		payoutRuns:     payoutRuns,
	}, nil
}

// RecordRows adds count rows of the given class for a vendor.
func (m *Metrics) RecordRows(ctx context.Context, vendor, class string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("vendor", strings.TrimSpace(vendor)),
		attribute.String("class", strings.TrimSpace(class)),
	)
	m.rowsClassified.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordWrite counts events written and events already present.
func (m *Metrics) RecordWrite(ctx context.Context, vendor string, written, alreadyPresent int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("vendor", strings.TrimSpace(vendor)))
	if written > 0 {
		m.eventsWritten.Add(ctx, int64(written), metric.WithAttributes(attrs...))
	}
	if alreadyPresent > 0 {
		m.eventsSkipped.Add(ctx, int64(alreadyPresent), metric.WithAttributes(attrs...))
	}
}

// RecordFile increments processed file counts by outcome.
func (m *Metrics) RecordFile(ctx context.Context, vendor, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("vendor", strings.TrimSpace(vendor)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.filesProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFXFallback increments static fallback conversions.
func (m *Metrics) RecordFXFallback(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_currency", strings.ToUpper(strings.TrimSpace(from))),
		attribute.String("to_currency", strings.ToUpper(strings.TrimSpace(to))),
	)
	m.fxFallbacks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWarehouseBuild adds the number of facts produced by a rebuild.
func (m *Metrics) RecordWarehouseBuild(ctx context.Context, facts int) {
	if m == nil || facts <= 0 {
		return
	}
	m.warehouseFacts.Add(ctx, int64(facts))
}

// RecordPayoutRun increments payout run transitions.
func (m *Metrics) RecordPayoutRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.payoutRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"vendor":        {},
	"class":         {},
	"outcome":       {},
	"status":        {},
	"from_currency": {},
	"to_currency":   {},
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
