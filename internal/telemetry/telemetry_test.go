package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/joseph-ayodele/docparse/internal/common"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation %T is not an int64 sum", agg)
	}
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.Processed(ctx, "food", 1.2)
	m.Processed(ctx, "recipe", 0.8)
	m.Failed(ctx, "unsupported")
	m.Retried(ctx)
	m.Cancelled(ctx)

	got := collect(t, reader)
	if n := sum(t, got["docparse.jobs.processed"]); n != 2 {
		t.Errorf("processed = %d, want 2", n)
	}
	if n := sum(t, got["docparse.jobs.failed"]); n != 1 {
		t.Errorf("failed = %d, want 1", n)
	}
	h, ok := got["docparse.job.duration"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration aggregation is %T", got["docparse.job.duration"])
	}
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("duration samples = %d, want 2", count)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Processed(context.Background(), "food", 1)
	m.Failed(context.Background(), "x")
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), common.TelemetryConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
