package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics, exported via Prometheus.
type Metrics struct {
	meter metric.Meter

	// Cache metrics
	CacheHits    metric.Int64Counter
	CacheMisses  metric.Int64Counter
	CacheStores  metric.Int64Counter
	CacheEntries metric.Int64Gauge

	// Maintenance metrics
	MaintenanceDuration metric.Float64Histogram
	MaintenanceRuns     metric.Int64Counter

	// Warmup metrics
	SlotsWarmed  metric.Int64Counter
	SlotsSkipped metric.Int64Counter

	// RPC metrics
	RPCCalls    metric.Int64Counter
	RPCDuration metric.Float64Histogram

	// Watcher metrics
	AccountChanges metric.Int64Counter

	// Error metrics
	Errors metric.Int64Counter

	exporter *prometheus.Exporter
}

// NewMetrics creates a Metrics instance backed by an OTEL meter with a
// Prometheus exporter. When disabled, all instruments are nil and the
// Record helpers become no-ops.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

func (m *Metrics) initMetrics() error {
	var err error

	m.CacheHits, err = m.meter.Int64Counter(
		"indexer.cache.hits",
		metric.WithDescription("Total cache hits"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"indexer.cache.misses",
		metric.WithDescription("Total cache misses"),
	)
	if err != nil {
		return err
	}

	m.CacheStores, err = m.meter.Int64Counter(
		"indexer.cache.stores",
		metric.WithDescription("Total records stored in the cache"),
	)
	if err != nil {
		return err
	}

	m.CacheEntries, err = m.meter.Int64Gauge(
		"indexer.cache.entries",
		metric.WithDescription("Current entry count per cache tier"),
	)
	if err != nil {
		return err
	}

	m.MaintenanceDuration, err = m.meter.Float64Histogram(
		"indexer.cache.maintenance.duration",
		metric.WithDescription("Cache maintenance sweep duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.MaintenanceRuns, err = m.meter.Int64Counter(
		"indexer.cache.maintenance.runs",
		metric.WithDescription("Total cache maintenance sweeps"),
	)
	if err != nil {
		return err
	}

	m.SlotsWarmed, err = m.meter.Int64Counter(
		"indexer.warmup.slots",
		metric.WithDescription("Total slots pre-loaded into the cache"),
	)
	if err != nil {
		return err
	}

	m.SlotsSkipped, err = m.meter.Int64Counter(
		"indexer.warmup.skipped",
		metric.WithDescription("Total slots skipped during warmup due to fetch failures"),
	)
	if err != nil {
		return err
	}

	m.RPCCalls, err = m.meter.Int64Counter(
		"indexer.rpc.calls",
		metric.WithDescription("Total Solana RPC calls"),
	)
	if err != nil {
		return err
	}

	m.RPCDuration, err = m.meter.Float64Histogram(
		"indexer.rpc.duration",
		metric.WithDescription("Solana RPC call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.AccountChanges, err = m.meter.Int64Counter(
		"indexer.watcher.account_changes",
		metric.WithDescription("Total account state changes detected"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"indexer.errors",
		metric.WithDescription("Total errors encountered"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheHit records a cache hit for a tier.
func (m *Metrics) RecordCacheHit(ctx context.Context, tier string) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheMiss records a cache miss for a tier.
func (m *Metrics) RecordCacheMiss(ctx context.Context, tier string) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheStore records a record stored into a tier.
func (m *Metrics) RecordCacheStore(ctx context.Context, tier string) {
	if m.CacheStores == nil {
		return
	}
	m.CacheStores.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheEntries records the current entry count of a tier.
func (m *Metrics) RecordCacheEntries(ctx context.Context, tier string, entries int64) {
	if m.CacheEntries == nil {
		return
	}
	m.CacheEntries.Record(ctx, entries, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordMaintenance records a completed maintenance sweep.
func (m *Metrics) RecordMaintenance(ctx context.Context, duration time.Duration) {
	if m.MaintenanceRuns == nil {
		return
	}
	m.MaintenanceRuns.Add(ctx, 1)
	m.MaintenanceDuration.Record(ctx, float64(duration.Milliseconds()))
}

// RecordWarmup records the outcome of a warmup batch.
func (m *Metrics) RecordWarmup(ctx context.Context, warmed, skipped int64) {
	if m.SlotsWarmed == nil {
		return
	}
	m.SlotsWarmed.Add(ctx, warmed)
	m.SlotsSkipped.Add(ctx, skipped)
}

// RecordRPCCall records a Solana RPC call.
func (m *Metrics) RecordRPCCall(ctx context.Context, method, status string, duration time.Duration) {
	if m.RPCCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("status", status),
	}
	m.RPCCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.RPCDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordAccountChange records a detected account state change.
func (m *Metrics) RecordAccountChange(ctx context.Context, field string) {
	if m.AccountChanges == nil {
		return
	}
	m.AccountChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordError records an error by type.
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler serving Prometheus metrics. The OTEL
// Prometheus exporter registers with the default registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
