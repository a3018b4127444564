package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds all telemetry instruments and providers.
// A zero Telemetry, or a nil *Telemetry, is valid and records nothing.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// Local API (RED)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Backend API calls
	apiCallsTotal   metric.Int64Counter
	apiCallDuration metric.Float64Histogram

	// Business
	downloadsTotal    metric.Int64Counter
	downloadsActive   metric.Int64UpDownCounter
	downloadDuration  metric.Float64Histogram
	downloadBytes     metric.Int64Counter
	interactionsTotal metric.Int64Counter
	storeOperations   metric.Int64Counter
	storeOperationDur metric.Float64Histogram

	// System health
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	systemErrors   metric.Int64Counter
	systemUptime   metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

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
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}

	return t.tracer
}

// RecordHTTPRequest records metrics for a request served by the local API.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(ctx, 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (t *Telemetry) IncrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, 1)
	}
}

func (t *Telemetry) DecrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, -1)
	}
}

// RecordAPICall records a call made to the content backend. endpoint must be a
// route template (e.g. "POST /api/bookmark/:id/toggle"), never a concrete URL.
func (t *Telemetry) RecordAPICall(ctx context.Context, endpoint, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	)

	if t.apiCallsTotal != nil {
		t.apiCallsTotal.Add(ctx, 1, attrs)
	}

	if t.apiCallDuration != nil {
		t.apiCallDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordDownload records the outcome of one download.
func (t *Telemetry) RecordDownload(ctx context.Context, status string, duration time.Duration, bytes int64) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(ctx, 1, attrs)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(ctx, duration.Seconds(), attrs)
	}

	if t.downloadBytes != nil && bytes > 0 {
		t.downloadBytes.Add(ctx, bytes)
	}
}

func (t *Telemetry) IncrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, 1)
	}
}

func (t *Telemetry) DecrementActiveDownloads(ctx context.Context) {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, -1)
	}
}

// RecordInteraction records an interaction by action (like, save, share, view,
// comment) and the source of its result (server, fallback, error).
func (t *Telemetry) RecordInteraction(ctx context.Context, action, source string) {
	if t != nil && t.interactionsTotal != nil {
		t.interactionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("source", source),
		))
	}
}

// RecordStoreOperation records a local persistence operation.
func (t *Telemetry) RecordStoreOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.storeOperations != nil {
		t.storeOperations.Add(ctx, 1, attrs)
	}

	if t.storeOperationDur != nil {
		t.storeOperationDur.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(ctx context.Context, component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("error_type", errorType),
		))
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of local API requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("Local API request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of local API requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	t.apiCallsTotal, err = t.meter.Int64Counter(
		"api_calls_total",
		metric.WithDescription("Total number of calls made to the content backend"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create api_calls_total counter: %w", err)
	}

	t.apiCallDuration, err = t.meter.Float64Histogram(
		"api_call_duration_seconds",
		metric.WithDescription("Content backend call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create api_call_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of active downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_active counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.downloadBytes, err = t.meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Bytes written by completed downloads"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_bytes counter: %w", err)
	}

	t.interactionsTotal, err = t.meter.Int64Counter(
		"interactions_total",
		metric.WithDescription("Total number of content interactions by action and result source"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create interactions_total counter: %w", err)
	}

	t.storeOperations, err = t.meter.Int64Counter(
		"store_operations_total",
		metric.WithDescription("Total number of local store operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create store_operations_total counter: %w", err)
	}

	t.storeOperationDur, err = t.meter.Float64Histogram(
		"store_operation_duration_seconds",
		metric.WithDescription("Local store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create store_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(ctx, startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(ctx context.Context, startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	if t.memoryUsage != nil {
		t.memoryUsage.Record(ctx, int64(m.Alloc))
	}

	if t.goroutineCount != nil {
		t.goroutineCount.Record(ctx, int64(runtime.NumGoroutine()))
	}

	if t.systemUptime != nil {
		t.systemUptime.Record(ctx, time.Since(startTime).Seconds())
	}
}
