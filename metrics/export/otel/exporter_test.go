package otel

import (
	"context"
	"testing"

	riskgate "github.com/openclave/riskgate"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	snapshot riskgate.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() riskgate.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                      { return f.dropped }

func sampleSource() *fakeSource {
	return &fakeSource{
		snapshot: riskgate.MetricsSnapshot{
			Counters: map[riskgate.MetricID]uint64{
				riskgate.MetricLoginSuccess:   5,
				riskgate.MetricRefreshSuccess: 2,
			},
			Histograms: map[riskgate.MetricID][]uint64{
				riskgate.MetricValidateLatency: {3, 1, 0, 0, 0, 0, 0, 0},
			},
		},
		dropped: 1,
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	values := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					values[m.Name] = dp.Value
				}
			}
		}
	}
	return values
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	exporter, err := NewOTelExporterFromSource(provider.Meter("test"), sampleSource())
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	t.Cleanup(func() { _ = exporter.Close() })

	values := collect(t, reader)

	if got := values["riskgate_login_success_total"]; got != 5 {
		t.Fatalf("login success = %d, want 5", got)
	}
	if got := values["riskgate_refresh_success_total"]; got != 2 {
		t.Fatalf("refresh success = %d, want 2", got)
	}
	if got := values["riskgate_audit_dropped_total"]; got != 1 {
		t.Fatalf("audit dropped = %d, want 1", got)
	}
	// Cumulative buckets: 3, then 3+1, flat to the end.
	if got := values["riskgate_validate_latency_seconds_bucket_le_0_005"]; got != 3 {
		t.Fatalf("first bucket = %d, want 3", got)
	}
	if got := values["riskgate_validate_latency_seconds_bucket_le_inf"]; got != 4 {
		t.Fatalf("last bucket = %d, want 4", got)
	}
	if got := values["riskgate_validate_latency_seconds_count"]; got != 4 {
		t.Fatalf("count = %d, want 4", got)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	if _, err := NewOTelExporterFromSource(nil, sampleSource()); err != ErrNilMeter {
		t.Fatalf("err = %v, want ErrNilMeter", err)
	}
	if _, err := NewOTelExporterFromSource(provider.Meter("test"), nil); err != ErrNilSource {
		t.Fatalf("err = %v, want ErrNilSource", err)
	}
}

func TestCloseStopsCollection(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	source := sampleSource()
	exporter, err := NewOTelExporterFromSource(provider.Meter("test"), source)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	values := collect(t, reader)
	if _, ok := values["riskgate_login_success_total"]; ok {
		t.Fatal("unregistered callback still observed values")
	}
}
