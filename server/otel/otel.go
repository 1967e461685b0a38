// Package otel wires OpenTelemetry metrics with a prometheus exporter for
// the A2A server.
package otel

import (
	"context"
	"fmt"

	otel "go.opentelemetry.io/otel"
	attribute "go.opentelemetry.io/otel/attribute"
	prometheus "go.opentelemetry.io/otel/exporters/prometheus"
	metric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	resource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
)

// Telemetry records server-level metrics.
type Telemetry interface {
	// RecordRequest counts one JSON-RPC request by method.
	RecordRequest(ctx context.Context, method string)

	// RecordRequestDuration records JSON-RPC request processing time.
	RecordRequestDuration(ctx context.Context, method string, durationMs float64)

	// RecordResponseError counts one JSON-RPC error response by code.
	RecordResponseError(ctx context.Context, method string, code int)

	// RecordTaskTransition counts one task state transition.
	RecordTaskTransition(ctx context.Context, state string)

	// RecordStreamOpened and RecordStreamClosed track live SSE streams.
	RecordStreamOpened(ctx context.Context)
	RecordStreamClosed(ctx context.Context)

	// ShutDown flushes and stops the metrics pipeline.
	ShutDown(ctx context.Context) error
}

type TelemetryImpl struct {
	logger        *zap.Logger
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	requestCounter           metric.Int64Counter
	requestDurationHistogram metric.Float64Histogram
	responseErrorCounter     metric.Int64Counter
	taskTransitionCounter    metric.Int64Counter
	streamGauge              metric.Int64UpDownCounter
}

var _ Telemetry = (*TelemetryImpl)(nil)

// NewTelemetry creates a Telemetry backed by a prometheus exporter.
func NewTelemetry(cfg *config.Config, logger *zap.Logger) (Telemetry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	t := &TelemetryImpl{logger: logger}
	if err := t.initialize(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return t, nil
}

func (t *TelemetryImpl) initialize(cfg *config.Config) error {
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.AgentName),
		semconv.ServiceVersion(cfg.AgentVersion),
	)

	histogramBoundaries := []float64{1, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500, 5000, 7500, 10000}
	latencyView := sdkmetric.NewView(
		sdkmetric.Instrument{Kind: sdkmetric.InstrumentKindHistogram},
		sdkmetric.Stream{
			Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: histogramBoundaries,
			},
		},
	)

	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(latencyView),
	)
	otel.SetMeterProvider(t.meterProvider)
	t.meter = t.meterProvider.Meter(cfg.AgentName)

	if err := t.initializeMetrics(); err != nil {
		return err
	}

	t.logger.Info("telemetry initialized",
		zap.String("agent_name", cfg.AgentName),
		zap.String("version", cfg.AgentVersion))
	return nil
}

func (t *TelemetryImpl) initializeMetrics() error {
	var err error

	t.requestCounter, err = t.meter.Int64Counter(
		"a2a.requests.total",
		metric.WithDescription("Total number of JSON-RPC requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request counter: %w", err)
	}

	t.requestDurationHistogram, err = t.meter.Float64Histogram(
		"a2a.request_duration",
		metric.WithDescription("Duration of JSON-RPC request processing"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	t.responseErrorCounter, err = t.meter.Int64Counter(
		"a2a.response_errors.total",
		metric.WithDescription("Total number of JSON-RPC error responses by code"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create response error counter: %w", err)
	}

	t.taskTransitionCounter, err = t.meter.Int64Counter(
		"a2a.task_transitions.total",
		metric.WithDescription("Total number of task state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create task transition counter: %w", err)
	}

	t.streamGauge, err = t.meter.Int64UpDownCounter(
		"a2a.streams.active",
		metric.WithDescription("Number of open SSE event streams"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create stream gauge: %w", err)
	}

	return nil
}

func (t *TelemetryImpl) RecordRequest(ctx context.Context, method string) {
	t.requestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

func (t *TelemetryImpl) RecordRequestDuration(ctx context.Context, method string, durationMs float64) {
	t.requestDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("method", method),
	))
}

func (t *TelemetryImpl) RecordResponseError(ctx context.Context, method string, code int) {
	t.responseErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Int("code", code),
	))
}

func (t *TelemetryImpl) RecordTaskTransition(ctx context.Context, state string) {
	t.taskTransitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
	))
}

func (t *TelemetryImpl) RecordStreamOpened(ctx context.Context) {
	t.streamGauge.Add(ctx, 1)
}

func (t *TelemetryImpl) RecordStreamClosed(ctx context.Context) {
	t.streamGauge.Add(ctx, -1)
}

func (t *TelemetryImpl) ShutDown(ctx context.Context) error {
	return t.meterProvider.Shutdown(ctx)
}
