package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// withManualReader installs an in-memory MeterProvider and rebinds the
// instruments to it for the duration of the test.
func withManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	prev := otel.GetMeterProvider()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	instOnce = sync.Once{}
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		instOnce = sync.Once{}
	})
	return reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestStatusStr(t *testing.T) {
	if got := statusStr(nil); got != "ok" {
		t.Errorf("statusStr(nil) = %q, want \"ok\"", got)
	}
	if got := statusStr(errors.New("boom")); got != "error" {
		t.Errorf("statusStr(err) = %q, want \"error\"", got)
	}
}

func TestRecordEmailCounters(t *testing.T) {
	reader := withManualReader(t)
	ctx := context.Background()

	RecordEmail(ctx, "new", "processing")
	RecordEmail(ctx, "new", "processing")
	RecordEmail(ctx, "new", "labeled")
	RecordEmail(ctx, "backfill", "skipped")
	RecordEmail(ctx, "new", "error")
	RecordEmail(ctx, "new", "trashed")
	RecordEmail(ctx, "new", "unknown")

	want := map[string]int64{
		"labelsweep.emails.processed": 2,
		"labelsweep.emails.labeled":   1,
		"labelsweep.emails.skipped":   1,
		"labelsweep.emails.errors":    1,
		"labelsweep.emails.trashed":   1,
	}
	for name, n := range want {
		if got := sumOf(t, reader, name); got != n {
			t.Errorf("%s = %d, want %d", name, got, n)
		}
	}
}

func TestRecordCleanup(t *testing.T) {
	reader := withManualReader(t)
	RecordCleanup(context.Background(), "Low Priority", 4, 1)
	RecordCleanup(context.Background(), "Newsletters", 0, 0)
	if got := sumOf(t, reader, "labelsweep.cleanup.trashed"); got != 5 {
		t.Fatalf("cleanup.trashed = %d, want 5", got)
	}
}

func TestRecordWithNoopProvider(t *testing.T) {
	instOnce = sync.Once{}
	t.Cleanup(func() { instOnce = sync.Once{} })
	// Must not panic against the default noop provider.
	RecordEmail(context.Background(), "new", "labeled")
	RecordRun(context.Background(), "cleanup", errors.New("x"))
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
