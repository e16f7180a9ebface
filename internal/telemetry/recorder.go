// Package telemetry records pipeline outcomes as OTel metrics.
// Instruments bind to the global MeterProvider, which is a noop until
// Init installs a real one.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/joshsymonds/labelsweep"

type instruments struct {
	emailsProcessed metric.Int64Counter
	emailsLabeled   metric.Int64Counter
	emailsSkipped   metric.Int64Counter
	emailsErrors    metric.Int64Counter
	emailsTrashed   metric.Int64Counter
	cleanupTrashed  metric.Int64Counter
	runTotal        metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     instruments
)

// initInstruments registers instruments against the current global
// MeterProvider. Called lazily on first use.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)

		inst.emailsProcessed, _ = m.Int64Counter("labelsweep.emails.processed",
			metric.WithDescription("Emails that entered the per-email step"),
		)
		inst.emailsLabeled, _ = m.Int64Counter("labelsweep.emails.labeled",
			metric.WithDescription("Emails with at least one label applied"),
		)
		inst.emailsSkipped, _ = m.Int64Counter("labelsweep.emails.skipped",
			metric.WithDescription("Emails skipped because they already carried a label"),
		)
		inst.emailsErrors, _ = m.Int64Counter("labelsweep.emails.errors",
			metric.WithDescription("Per-email classification or apply failures"),
		)
		inst.emailsTrashed, _ = m.Int64Counter("labelsweep.emails.trashed",
			metric.WithDescription("Emails trashed by auto-trash rules"),
		)
		inst.cleanupTrashed, _ = m.Int64Counter("labelsweep.cleanup.trashed",
			metric.WithDescription("Emails trashed by retention cleanup"),
		)
		inst.runTotal, _ = m.Int64Counter("labelsweep.runs.total",
			metric.WithDescription("Pipeline invocations"),
		)
	})
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordEmail counts one per-email outcome. status is one of processing,
// labeled, skipped, trashed or error.
func RecordEmail(ctx context.Context, pipeline, status string) {
	initInstruments()
	attrs := metric.WithAttributes(attribute.String("pipeline", pipeline))
	switch status {
	case "processing":
		inst.emailsProcessed.Add(ctx, 1, attrs)
	case "labeled":
		inst.emailsLabeled.Add(ctx, 1, attrs)
	case "skipped":
		inst.emailsSkipped.Add(ctx, 1, attrs)
	case "trashed":
		inst.emailsTrashed.Add(ctx, 1, attrs)
	case "error":
		inst.emailsErrors.Add(ctx, 1, attrs)
	}
}

// RecordCleanup counts messages trashed for one retention rule.
func RecordCleanup(ctx context.Context, label string, trashed, failed int) {
	initInstruments()
	if trashed > 0 {
		inst.cleanupTrashed.Add(ctx, int64(trashed),
			metric.WithAttributes(attribute.String("label", label), attribute.String("status", "ok")),
		)
	}
	if failed > 0 {
		inst.cleanupTrashed.Add(ctx, int64(failed),
			metric.WithAttributes(attribute.String("label", label), attribute.String("status", "error")),
		)
	}
}

// RecordRun counts a completed pipeline invocation.
func RecordRun(ctx context.Context, pipeline string, err error) {
	initInstruments()
	inst.runTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("pipeline", pipeline),
			attribute.String("status", statusStr(err)),
		),
	)
}
