package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/makeabledk/firebasevision/pkg/provider/detector"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// ProviderMetrics receives one record per backend call made by a
// [DetectorFallback]. observe.Metrics implements it.
type ProviderMetrics interface {
	RecordProviderRequest(ctx context.Context, provider, status string)
	RecordProviderError(ctx context.Context, provider string)
}

// DetectorFallback implements [detector.Provider] with failover across
// several detector backends, each behind its own circuit breaker.
type DetectorFallback struct {
	group   *FallbackGroup[named]
	metrics ProviderMetrics
}

type named struct {
	name string
	p    detector.Provider
}

var (
	_ detector.Provider = (*DetectorFallback)(nil)
	_ io.Closer         = (*DetectorFallback)(nil)
)

// NewDetectorFallback creates a [DetectorFallback] with primary as the
// preferred backend. m may be nil.
func NewDetectorFallback(primary detector.Provider, primaryName string, cfg FallbackConfig, m ProviderMetrics) *DetectorFallback {
	return &DetectorFallback{
		group:   NewFallbackGroup(named{primaryName, primary}, primaryName, cfg),
		metrics: m,
	}
}

// AddFallback registers an additional detector, tried after earlier ones.
func (f *DetectorFallback) AddFallback(name string, p detector.Provider) {
	f.group.AddFallback(name, named{name, p})
}

// Detect runs the frame through the first backend that answers.
func (f *DetectorFallback) Detect(ctx context.Context, frame types.Frame) (*types.DetectionResult, error) {
	if len(frame.Data) == 0 {
		return nil, detector.ErrEmptyFrame
	}
	return ExecuteWithResult(ctx, f.group, func(n named) (*types.DetectionResult, error) {
		res, err := n.p.Detect(ctx, frame)
		f.record(ctx, n.name, err)
		return res, err
	})
}

func (f *DetectorFallback) record(ctx context.Context, provider string, err error) {
	if f.metrics == nil {
		return
	}
	if err != nil {
		f.metrics.RecordProviderRequest(ctx, provider, "error")
		f.metrics.RecordProviderError(ctx, provider)
		return
	}
	f.metrics.RecordProviderRequest(ctx, provider, "ok")
}

// Available reports whether any backend's breaker admits calls.
func (f *DetectorFallback) Available() bool { return f.group.Available() }

// Status reports the breaker state of every backend in order.
func (f *DetectorFallback) Status() []BreakerStatus { return f.group.Status() }

// Close closes every backend that implements [io.Closer] and joins the
// errors.
func (f *DetectorFallback) Close() error {
	var errs []error
	f.group.Each(func(_ string, n named) {
		if c, ok := n.p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
