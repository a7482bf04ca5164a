// Package telemetry wires OpenTelemetry metrics for the worker.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/joseph-ayodele/docparse/internal/common"
)

const instrumentationName = "github.com/joseph-ayodele/docparse/worker"

// Setup installs a global meter provider exporting to stdout when enabled.
// The returned function flushes and stops it.
func Setup(ctx context.Context, cfg common.TelemetryConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.MetricsStdout {
		logger.Debug("metrics exporter disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("stdout metric exporter: %w", err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	logger.Info("metrics exporter started", "exporter", "stdout", "interval", interval)
	return mp.Shutdown, nil
}

// Metrics holds the worker instruments.
type Metrics struct {
	processed metric.Int64Counter
	failed    metric.Int64Counter
	cancelled metric.Int64Counter
	retried   metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		m   Metrics
		err error
	)
	if m.processed, err = meter.Int64Counter("docparse.jobs.processed",
		metric.WithDescription("Documents that finished the pipeline"),
		metric.WithUnit("{document}")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("docparse.jobs.failed",
		metric.WithDescription("Tasks recorded as failed"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.cancelled, err = meter.Int64Counter("docparse.jobs.cancelled",
		metric.WithDescription("Tasks dropped because they were revoked"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.retried, err = meter.Int64Counter("docparse.jobs.retried",
		metric.WithDescription("Tasks requeued after an infrastructure error"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("docparse.job.duration",
		metric.WithDescription("Wall time spent on one task"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Processed records one finished document and its category.
func (m *Metrics) Processed(ctx context.Context, category string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("category", category))
	m.processed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

func (m *Metrics) Failed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) Cancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.cancelled.Add(ctx, 1)
}

func (m *Metrics) Retried(ctx context.Context) {
	if m == nil {
		return
	}
	m.retried.Add(ctx, 1)
}
