// Package pipeline implements the frame-throttled detection pipeline.
//
// A [Gate] accepts frames from the capture device and lets at most one of them
// be in flight at the detector. Frames that arrive while a detection is
// outstanding are dropped rather than queued, so the overlay always follows the
// freshest frame the detector could keep up with. Each finished detection
// becomes an [Outcome] that the gate hands to a [Router], which extracts the
// listener payload and rebuilds the overlay.
//
// The pipeline is generic over the detector's result type R and the listener
// payload type P; the recognition model stays opaque to it.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/makeabledk/firebasevision/pkg/types"
)

var (
	// ErrDetection wraps every error returned by a detector. It is reported
	// per frame and never stops the pipeline.
	ErrDetection = errors.New("pipeline: detection failed")

	// ErrStaleOutcome marks an outcome that was discarded instead of routed,
	// either because the gate was stopped or because a newer outcome was
	// already routed. It is only used for logging and metrics.
	ErrStaleOutcome = errors.New("pipeline: stale outcome")
)

// Detector is the opaque recognition capability. Detect is called from a
// dedicated goroutine and may block; the gate makes it asynchronous.
type Detector[R any] interface {
	Detect(ctx context.Context, frame types.Frame) (R, error)
}

// DetectorFunc adapts a plain function to [Detector].
type DetectorFunc[R any] func(ctx context.Context, frame types.Frame) (R, error)

// Detect implements [Detector].
func (f DetectorFunc[R]) Detect(ctx context.Context, frame types.Frame) (R, error) {
	return f(ctx, frame)
}

// Outcome is the terminal result of one dispatched frame: either Result or Err
// is meaningful, never both.
type Outcome[R any] struct {
	// Seq is the dispatch sequence number, starting at 1.
	Seq uint64

	// Frame is the metadata of the frame that was detected on.
	Frame types.FrameMetadata

	Result R

	// Err is non-nil on failure and always wraps [ErrDetection].
	Err error

	// Latency is the time spent inside the detector.
	Latency time.Duration
}

// OK reports whether the outcome is a success.
func (o Outcome[R]) OK() bool { return o.Err == nil }

// Handler consumes outcomes. [Router] is the standard implementation.
type Handler[R any] interface {
	Route(ctx context.Context, out Outcome[R])
}

// HandlerFunc adapts a plain function to [Handler].
type HandlerFunc[R any] func(ctx context.Context, out Outcome[R])

// Route implements [Handler].
func (f HandlerFunc[R]) Route(ctx context.Context, out Outcome[R]) { f(ctx, out) }

// Tee routes every outcome to each handler in order, e.g. the router first
// and a detection log second.
type Tee[R any] []Handler[R]

// Route implements [Handler].
func (t Tee[R]) Route(ctx context.Context, out Outcome[R]) {
	for _, h := range t {
		h.Route(ctx, out)
	}
}

// Metrics receives pipeline telemetry. The observe package provides the
// OpenTelemetry implementation; the zero configuration discards everything.
type Metrics interface {
	// RecordFrame is called for every submitted frame. reason is empty for
	// accepted frames and names the drop cause otherwise.
	RecordFrame(ctx context.Context, accepted bool, reason string)

	// RecordDetection is called once per finished detection with status "ok"
	// or "error".
	RecordDetection(ctx context.Context, status string, latency time.Duration)

	// RecordStale is called for every discarded outcome.
	RecordStale(ctx context.Context, reason string)
}

// Drop and stale reasons reported to [Metrics].
const (
	ReasonBusy       = "busy"
	ReasonStopped    = "stopped"
	ReasonSuperseded = "superseded"
)

type nopMetrics struct{}

func (nopMetrics) RecordFrame(context.Context, bool, string) {}
func (nopMetrics) RecordDetection(context.Context, string, time.Duration) {}
func (nopMetrics) RecordStale(context.Context, string) {}
