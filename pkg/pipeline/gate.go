package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/makeabledk/firebasevision/pkg/types"
)

const tracerName = "github.com/makeabledk/firebasevision/pkg/pipeline"

// GateOption configures a [Gate].
type GateOption func(*gateOptions)

type gateOptions struct {
	name    string
	timeout time.Duration
	metrics Metrics
	logger  *slog.Logger
}

// WithName sets the name used in logs and span attributes.
func WithName(name string) GateOption {
	return func(o *gateOptions) { o.name = name }
}

// WithDetectTimeout bounds every detector call. A timed-out call becomes a
// failed outcome like any other detector error.
func WithDetectTimeout(d time.Duration) GateOption {
	return func(o *gateOptions) { o.timeout = d }
}

// WithMetrics sets the telemetry sink.
func WithMetrics(m Metrics) GateOption {
	return func(o *gateOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) GateOption {
	return func(o *gateOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// detectorBox lets an interface value live in an atomic.Pointer.
type detectorBox[R any] struct {
	d Detector[R]
}

// Gate is the single-flight throttle in front of a detector.
//
// Submit never blocks: it either dispatches the frame to the detector in a new
// goroutine or drops it. The in-flight latch is cleared before the outcome is
// handed to the handler, so the next frame can be accepted while the previous
// outcome is still being routed.
//
// All methods are safe for concurrent use.
type Gate[R any] struct {
	handler Handler[R]
	opts    gateOptions

	detector atomic.Pointer[detectorBox[R]]
	inFlight atomic.Bool
	stopped  atomic.Bool
	seq      atomic.Uint64

	accepted atomic.Uint64
	dropped  atomic.Uint64
	routed   atomic.Uint64
	stale    atomic.Uint64

	// ctx is the parent of every detector call. It is cancelled by Close only;
	// Stop lets an in-flight call finish and discards its outcome.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewGate returns a Gate dispatching to d and routing outcomes to h.
func NewGate[R any](d Detector[R], h Handler[R], opts ...GateOption) *Gate[R] {
	o := gateOptions{
		name:    "detector",
		metrics: nopMetrics{},
		logger:  slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate[R]{
		handler: h,
		opts:    o,
		ctx:     ctx,
		cancel:  cancel,
	}
	g.detector.Store(&detectorBox[R]{d: d})
	return g
}

// Submit offers one frame. It returns true when the frame was dispatched and
// false when it was dropped because a detection is in flight or the gate is
// stopped. Submit implements capture.FrameSink.
func (g *Gate[R]) Submit(frame types.Frame) bool {
	if g.stopped.Load() {
		g.drop(ReasonStopped)
		return false
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		g.drop(ReasonBusy)
		return false
	}
	// Stop may have raced with the CAS.
	if g.stopped.Load() {
		g.inFlight.Store(false)
		g.drop(ReasonStopped)
		return false
	}

	seq := g.seq.Add(1)
	box := g.detector.Load()
	g.accepted.Add(1)
	g.opts.metrics.RecordFrame(g.ctx, true, "")

	g.wg.Add(1)
	go g.dispatch(seq, box.d, frame)
	return true
}

func (g *Gate[R]) drop(reason string) {
	g.dropped.Add(1)
	g.opts.metrics.RecordFrame(g.ctx, false, reason)
}

// dispatch runs one detection and delivers its outcome.
func (g *Gate[R]) dispatch(seq uint64, d Detector[R], frame types.Frame) {
	defer g.wg.Done()

	ctx := g.ctx
	if g.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.detect",
		trace.WithAttributes(
			attribute.String("detector", g.opts.name),
			attribute.Int64("seq", int64(seq)),
			attribute.Int("frame.width", frame.Metadata.Width),
			attribute.Int("frame.height", frame.Metadata.Height),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := g.detect(ctx, d, frame)
	out := Outcome[R]{
		Seq:     seq,
		Frame:   frame.Metadata,
		Result:  result,
		Latency: time.Since(start),
	}
	if err != nil {
		out.Err = fmt.Errorf("%w: %w", ErrDetection, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.opts.metrics.RecordDetection(ctx, "error", out.Latency)
	} else {
		g.opts.metrics.RecordDetection(ctx, "ok", out.Latency)
	}

	g.inFlight.Store(false)

	if g.stopped.Load() {
		g.stale.Add(1)
		g.opts.metrics.RecordStale(ctx, ReasonStopped)
		g.opts.logger.Debug("pipeline: outcome after stop discarded",
			"detector", g.opts.name, "seq", seq, "err", ErrStaleOutcome)
		return
	}
	g.routed.Add(1)
	g.handler.Route(ctx, out)
}

// detect calls d and turns a panic into an error so the latch is always
// released.
func (g *Gate[R]) detect(ctx context.Context, d Detector[R], frame types.Frame) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return d.Detect(ctx, frame)
}

// SetDetector swaps the detector used for subsequent dispatches and returns
// the previous one. A frame already in flight finishes on the old detector.
func (g *Gate[R]) SetDetector(d Detector[R]) Detector[R] {
	old := g.detector.Swap(&detectorBox[R]{d: d})
	return old.d
}

// Detector returns the current detector.
func (g *Gate[R]) Detector() Detector[R] {
	return g.detector.Load().d
}

// Stop closes the gate. Later submits are rejected and an outcome that is
// still in flight is discarded instead of routed. Stop does not wait for or
// cancel the in-flight detection. It is idempotent.
func (g *Gate[R]) Stop() {
	if g.stopped.CompareAndSwap(false, true) {
		g.opts.logger.Debug("pipeline: gate stopped", "detector", g.opts.name)
	}
}

// Close stops the gate, cancels any in-flight detection, waits for its
// goroutine to exit and closes the detector if it implements io.Closer.
// Calling Close more than once returns the first result.
func (g *Gate[R]) Close() error {
	g.closeOnce.Do(func() {
		g.Stop()
		g.cancel()
		g.wg.Wait()
		if c, ok := g.Detector().(io.Closer); ok {
			if err := c.Close(); err != nil {
				g.closeErr = fmt.Errorf("pipeline: close detector: %w", err)
			}
		}
	})
	return g.closeErr
}

// Stopped reports whether Stop has been called.
func (g *Gate[R]) Stopped() bool { return g.stopped.Load() }

// InFlight reports whether a detection is outstanding.
func (g *Gate[R]) InFlight() bool { return g.inFlight.Load() }

// GateStats is a snapshot of the gate counters.
type GateStats struct {
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
	Routed   uint64 `json:"routed"`
	Stale    uint64 `json:"stale"`
	InFlight bool   `json:"in_flight"`
	Stopped  bool   `json:"stopped"`
}

// Stats returns the gate counters.
func (g *Gate[R]) Stats() GateStats {
	return GateStats{
		Accepted: g.accepted.Load(),
		Dropped:  g.dropped.Load(),
		Routed:   g.routed.Load(),
		Stale:    g.stale.Load(),
		InFlight: g.inFlight.Load(),
		Stopped:  g.stopped.Load(),
	}
}
