package metrics

import (
	"context"
	"fmt"
	"strconv"
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
	aggregationRuns    metric.Int64Counter
	tenantFailures     metric.Int64Counter
	conversations      metric.Int64Counter
	invalidTimestamps  metric.Int64Counter
	unclassified       metric.Int64Counter
	runDurationSeconds metric.Float64Histogram
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
		name = "pulse"
	}
	meter := provider.Meter(name)

	aggregationRuns, err := meter.Int64Counter("pulse_aggregation_runs_total")
	if err != nil {
		return nil, err
	}
	tenantFailures, err := meter.Int64Counter("pulse_tenant_computation_failures_total")
	if err != nil {
		return nil, err
	}
	conversations, err := meter.Int64Counter("pulse_conversations_reconstructed_total")
	if err != nil {
		return nil, err
	}
	invalidTimestamps, err := meter.Int64Counter("pulse_invalid_timestamps_total")
	if err != nil {
		return nil, err
	}
	unclassified, err := meter.Int64Counter("pulse_unclassified_outcomes_total")
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram("pulse_aggregation_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		aggregationRuns:    aggregationRuns,
		tenantFailures:     tenantFailures,
		conversations:      conversations,
		invalidTimestamps:  invalidTimestamps,
		unclassified:       unclassified,
		runDurationSeconds: runDuration,
	}, nil
}

// RecordAggregationRun counts one window aggregation run.
func (m *Metrics) RecordAggregationRun(ctx context.Context, periodDays int, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("period_days", strconv.Itoa(periodDays)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.aggregationRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTenantFailure counts one isolated per-tenant computation failure.
func (m *Metrics) RecordTenantFailure(ctx context.Context, periodDays int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("period_days", strconv.Itoa(periodDays)))
	m.tenantFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConversations counts reconstructed conversations.
func (m *Metrics) RecordConversations(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conversations.Add(ctx, int64(n))
}

// RecordInvalidTimestamps counts events excluded for malformed timestamps.
func (m *Metrics) RecordInvalidTimestamps(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidTimestamps.Add(ctx, int64(n))
}

// RecordUnclassifiedOutcomes counts conversations with no recognized outcome.
func (m *Metrics) RecordUnclassifiedOutcomes(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unclassified.Add(ctx, int64(n))
}

// ObserveRunDuration records the wall time of one full aggregation run.
func (m *Metrics) ObserveRunDuration(ctx context.Context, periodDays int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("period_days", strconv.Itoa(periodDays)))
	m.runDurationSeconds.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
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

// Tenant identifiers never become metric labels; the label set is
// fixed and low-cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"period_days": {},
	"status":      {},
	"job":         {},
}

// FilterAttributes drops attributes whose keys are not allow-listed.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}
