// Package observe provides application-wide observability primitives for
// visiond: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// [Metrics] satisfies the small recorder interfaces declared by the pipeline
// and lifecycle packages, so those packages stay free of OTel imports.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/makeabledk/firebasevision/pkg/lifecycle"
	"github.com/makeabledk/firebasevision/pkg/pipeline"
)

// meterName is the instrumentation scope name used for all visiond metrics.
const meterName = "github.com/makeabledk/firebasevision"

var (
	_ pipeline.Metrics  = (*Metrics)(nil)
	_ lifecycle.Metrics = (*Metrics)(nil)
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Detection pipeline ---

	// Frames counts submitted frames. Attributes: accepted (bool), reason.
	Frames metric.Int64Counter

	// Detections counts finished detections. Attribute: status ("ok", "error").
	Detections metric.Int64Counter

	// DetectionDuration tracks detector latency per frame.
	DetectionDuration metric.Float64Histogram

	// StaleOutcomes counts outcomes discarded before reaching the overlay.
	// Attribute: reason ("stopped", "superseded").
	StaleOutcomes metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts detector backend calls. Attributes: provider, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts detector backend errors. Attribute: provider.
	ProviderErrors metric.Int64Counter

	// --- Lifecycle ---

	// Transitions counts controller state changes. Attributes: from, to.
	Transitions metric.Int64Counter

	// ActiveControllers tracks the number of registered controllers.
	ActiveControllers metric.Int64UpDownCounter

	// --- Camera controls ---

	// ZoomChanges counts accepted zoom changes.
	ZoomChanges metric.Int64Counter

	// ZoomPercent is the last applied zoom as a percentage of the maximum.
	ZoomPercent metric.Int64Gauge

	// --- Overlay and store ---

	// OverlaySubscribers tracks live overlay stream clients.
	OverlaySubscribers metric.Int64UpDownCounter

	// StoreRecords counts detection log writes. Attribute: status
	// ("written", "dropped", "error").
	StoreRecords metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// detector round trips, from on-device models to remote vision APIs.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Pipeline.
	if met.Frames, err = m.Int64Counter("visiond.frames",
		metric.WithDescription("Frames submitted to the detection gate by acceptance and drop reason."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("visiond.detections",
		metric.WithDescription("Finished detections by status."),
	); err != nil {
		return nil, err
	}
	if met.DetectionDuration, err = m.Float64Histogram("visiond.detection.duration",
		metric.WithDescription("Latency of a single frame detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StaleOutcomes, err = m.Int64Counter("visiond.stale_outcomes",
		metric.WithDescription("Detection outcomes discarded before routing, by reason."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("visiond.provider.requests",
		metric.WithDescription("Detector backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("visiond.provider.errors",
		metric.WithDescription("Detector backend errors by provider."),
	); err != nil {
		return nil, err
	}

	// Lifecycle.
	if met.Transitions, err = m.Int64Counter("visiond.lifecycle.transitions",
		metric.WithDescription("Controller state transitions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveControllers, err = m.Int64UpDownCounter("visiond.active_controllers",
		metric.WithDescription("Number of registered lifecycle controllers."),
	); err != nil {
		return nil, err
	}

	// Camera controls.
	if met.ZoomChanges, err = m.Int64Counter("visiond.zoom.changes",
		metric.WithDescription("Accepted zoom level changes."),
	); err != nil {
		return nil, err
	}
	if met.ZoomPercent, err = m.Int64Gauge("visiond.zoom.percent",
		metric.WithDescription("Current zoom as a percentage of the device maximum."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}

	// Overlay and store.
	if met.OverlaySubscribers, err = m.Int64UpDownCounter("visiond.overlay.subscribers",
		metric.WithDescription("Number of live overlay stream clients."),
	); err != nil {
		return nil, err
	}
	if met.StoreRecords, err = m.Int64Counter("visiond.store.records",
		metric.WithDescription("Detection log records by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("visiond.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame implements [pipeline.Metrics].
func (m *Metrics) RecordFrame(ctx context.Context, accepted bool, reason string) {
	m.Frames.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("accepted", accepted),
			attribute.String("reason", reason),
		),
	)
}

// RecordDetection implements [pipeline.Metrics].
func (m *Metrics) RecordDetection(ctx context.Context, status string, latency time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Detections.Add(ctx, 1, attrs)
	m.DetectionDuration.Record(ctx, latency.Seconds(), attrs)
}

// RecordStale implements [pipeline.Metrics].
func (m *Metrics) RecordStale(ctx context.Context, reason string) {
	m.StaleOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition implements [lifecycle.Metrics].
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordActiveControllers implements [lifecycle.Metrics].
func (m *Metrics) RecordActiveControllers(ctx context.Context, delta int64) {
	m.ActiveControllers.Add(ctx, delta)
}

// RecordProviderRequest records a detector backend call with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a detector backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordZoom records an accepted zoom change.
func (m *Metrics) RecordZoom(ctx context.Context, percent int) {
	m.ZoomChanges.Add(ctx, 1)
	m.ZoomPercent.Record(ctx, int64(percent))
}

// RecordOverlaySubscribers adjusts the overlay stream client gauge.
func (m *Metrics) RecordOverlaySubscribers(ctx context.Context, delta int64) {
	m.OverlaySubscribers.Add(ctx, delta)
}

// RecordStore records the outcome of a detection log write.
func (m *Metrics) RecordStore(ctx context.Context, status string) {
	m.StoreRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
