package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Resolution metrics
	resolutionsTotal     metric.Int64Counter
	resolutionDuration   metric.Float64Histogram
	resolutionsInFlight  metric.Int64UpDownCounter
	cacheLookupsTotal    metric.Int64Counter
	gateAdmissionsTotal  metric.Int64Counter
	pollAttempts         metric.Int64Histogram
	capacityRecoveries   metric.Int64Counter
	storeOperationsTotal metric.Int64Counter
	storeErrors          metric.Int64Counter
	storeDuration        metric.Float64Histogram
	dbOperationsTotal    metric.Int64Counter
	dbOperationDuration  metric.Float64Histogram
	cleanupItemsTotal    metric.Int64Counter

	systemErrors metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, pushes metrics over OTLP/gRPC alongside the
	// Prometheus scrape endpoint.
	OTLPEndpoint string
}

// New creates a new telemetry instance. A disabled instance is safe to use;
// every recording method becomes a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         meterProvider.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("noop")
	}

	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordResolution records the outcome of one resolve call: cached, ready,
// pending, or error_<kind> for failures.
func (t *Telemetry) RecordResolution(outcome string, duration time.Duration) {
	if t == nil || t.resolutionsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	t.resolutionsTotal.Add(context.Background(), 1, attrs)
	t.resolutionDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementResolutionsInFlight tracks resolution work currently running.
func (t *Telemetry) IncrementResolutionsInFlight() {
	if t != nil && t.resolutionsInFlight != nil {
		t.resolutionsInFlight.Add(context.Background(), 1)
	}
}

// DecrementResolutionsInFlight tracks resolution work currently running.
func (t *Telemetry) DecrementResolutionsInFlight() {
	if t != nil && t.resolutionsInFlight != nil {
		t.resolutionsInFlight.Add(context.Background(), -1)
	}
}

// RecordCacheLookup records a result cache hit, miss or expiry.
func (t *Telemetry) RecordCacheLookup(result string) {
	if t != nil && t.cacheLookupsTotal != nil {
		t.cacheLookupsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("result", result)),
		)
	}
}

// RecordGateAdmission records whether a caller became the leader, joined an
// existing resolution, or gave up waiting.
func (t *Telemetry) RecordGateAdmission(result string) {
	if t != nil && t.gateAdmissionsTotal != nil {
		t.gateAdmissionsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("result", result)),
		)
	}
}

// RecordPoll records how many probes a poll took and how it ended.
func (t *Telemetry) RecordPoll(outcome string, attempts int) {
	if t != nil && t.pollAttempts != nil {
		t.pollAttempts.Record(context.Background(), int64(attempts),
			metric.WithAttributes(attribute.String("outcome", outcome)),
		)
	}
}

// RecordCapacityRecovery records a reclaim attempt made by a capacity policy.
func (t *Telemetry) RecordCapacityRecovery(policy, status string) {
	if t != nil && t.capacityRecoveries != nil {
		t.capacityRecoveries.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("policy", policy),
				attribute.String("status", status),
			),
		)
	}
}

// RecordStoreOperation records remote store call metrics.
func (t *Telemetry) RecordStoreOperation(store, operation, status string, duration time.Duration) {
	if t == nil || t.storeOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.storeOperationsTotal.Add(context.Background(), 1, attrs)
	t.storeDuration.Record(context.Background(), duration.Seconds(), attrs)

	if status == "error" {
		t.storeErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("store", store),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordCleanup records items removed (or failed to be removed) by the
// retention sweeper.
func (t *Telemetry) RecordCleanup(status string, n int) {
	if t != nil && t.cleanupItemsTotal != nil && n > 0 {
		t.cleanupItemsTotal.Add(context.Background(), int64(n),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes pending exports and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return t.meterProvider.Shutdown(ctx)
}

func (t *Telemetry) initializeMetrics() error {
	var (
		errs []error
		err  error
	)

	check := func(name string) {
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to create %s: %w", name, err))
		}
	}

	t.httpRequestsTotal, err = t.meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"), metric.WithUnit("1"))
	check("http_requests_total")

	t.httpRequestDuration, err = t.meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s"))
	check("http_request_duration_seconds")

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"), metric.WithUnit("1"))
	check("http_requests_in_flight")

	t.resolutionsTotal, err = t.meter.Int64Counter("resolutions_total",
		metric.WithDescription("Total number of resolve calls by outcome"), metric.WithUnit("1"))
	check("resolutions_total")

	t.resolutionDuration, err = t.meter.Float64Histogram("resolution_duration_seconds",
		metric.WithDescription("Time spent answering a resolve call"), metric.WithUnit("s"))
	check("resolution_duration_seconds")

	t.resolutionsInFlight, err = t.meter.Int64UpDownCounter("resolutions_in_flight",
		metric.WithDescription("Number of resolutions currently doing remote work"), metric.WithUnit("1"))
	check("resolutions_in_flight")

	t.cacheLookupsTotal, err = t.meter.Int64Counter("result_cache_lookups_total",
		metric.WithDescription("Result cache lookups by result"), metric.WithUnit("1"))
	check("result_cache_lookups_total")

	t.gateAdmissionsTotal, err = t.meter.Int64Counter("admission_gate_total",
		metric.WithDescription("Admission gate decisions by result"), metric.WithUnit("1"))
	check("admission_gate_total")

	t.pollAttempts, err = t.meter.Int64Histogram("poll_attempts",
		metric.WithDescription("Number of probes used by a completion poll"), metric.WithUnit("1"))
	check("poll_attempts")

	t.capacityRecoveries, err = t.meter.Int64Counter("capacity_recoveries_total",
		metric.WithDescription("Capacity reclaim attempts by policy and status"), metric.WithUnit("1"))
	check("capacity_recoveries_total")

	t.storeOperationsTotal, err = t.meter.Int64Counter("store_operations_total",
		metric.WithDescription("Total number of remote store operations"), metric.WithUnit("1"))
	check("store_operations_total")

	t.storeErrors, err = t.meter.Int64Counter("store_errors_total",
		metric.WithDescription("Total number of remote store errors"), metric.WithUnit("1"))
	check("store_errors_total")

	t.storeDuration, err = t.meter.Float64Histogram("store_operation_duration_seconds",
		metric.WithDescription("Remote store operation duration in seconds"), metric.WithUnit("s"))
	check("store_operation_duration_seconds")

	t.dbOperationsTotal, err = t.meter.Int64Counter("db_operations_total",
		metric.WithDescription("Total number of database operations"), metric.WithUnit("1"))
	check("db_operations_total")

	t.dbOperationDuration, err = t.meter.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"), metric.WithUnit("s"))
	check("db_operation_duration_seconds")

	t.cleanupItemsTotal, err = t.meter.Int64Counter("cleanup_items_total",
		metric.WithDescription("Remote items handled by the retention sweeper"), metric.WithUnit("1"))
	check("cleanup_items_total")

	t.systemErrors, err = t.meter.Int64Counter("system_errors_total",
		metric.WithDescription("Total number of system errors"), metric.WithUnit("1"))
	check("system_errors_total")

	return errors.Join(errs...)
}
