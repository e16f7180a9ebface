package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// exportInterval is short because CLI runs are short.
const exportInterval = 10 * time.Second

// Init installs an OTLP/HTTP metric exporter pointed at endpoint (a full
// URL such as http://localhost:4318/v1/metrics). An empty endpoint leaves
// the noop provider in place. The returned shutdown flushes pending points.
func Init(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(mp)
	// Rebind instruments to the new provider.
	instOnce = sync.Once{}
	return mp.Shutdown, nil
}
