package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/makeabledk/firebasevision/pkg/overlay"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Processor interprets a detector result for the router. It is the only
// component that knows what R looks like.
type Processor[R, P any] interface {
	// Payload extracts the listener payload. ok is false when there is
	// nothing worth notifying about, in which case no listener call is made.
	Payload(result R) (payload P, ok bool)

	// Primitives builds the overlay content for result, in detector frame
	// coordinates. An empty slice clears the overlay.
	Primitives(result R) []overlay.Primitive

	// OnFailure is called for every failed outcome.
	OnFailure(err error)
}

// Listener receives the payload of every successful outcome that has one.
type Listener[P any] interface {
	OnResult(payload P)
}

// ListenerFunc adapts a plain function to [Listener].
type ListenerFunc[P any] func(payload P)

// OnResult implements [Listener].
func (f ListenerFunc[P]) OnResult(payload P) { f(payload) }

// Mapper converts primitives from detector frame coordinates into display
// coordinates. geometry.Geometry implements it.
type Mapper interface {
	Map(meta types.FrameMetadata, ps []overlay.Primitive) []overlay.Primitive
}

// RouterOption configures a [Router].
type RouterOption func(*routerOptions)

type routerOptions struct {
	mapper  Mapper
	metrics Metrics
	logger  *slog.Logger
}

// WithMapper sets the coordinate mapper. Without one, primitives are applied
// in frame coordinates.
func WithMapper(m Mapper) RouterOption {
	return func(o *routerOptions) { o.mapper = m }
}

// WithRouterMetrics sets the telemetry sink.
func WithRouterMetrics(m Metrics) RouterOption {
	return func(o *routerOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRouterLogger sets the logger. Defaults to slog.Default().
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(o *routerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Router turns outcomes into listener notifications and overlay updates.
//
// On success the payload goes to the listener (when present) and, independently,
// the overlay is rebuilt from the result: primitives are mapped with the
// geometry current at routing time and applied as one full replacement. On
// failure only the processor's failure hook runs.
//
// Routes are serialized. An outcome whose sequence number is not newer than the
// last routed one is dropped, so a slow tail can never overwrite a newer
// overlay.
type Router[R, P any] struct {
	proc     Processor[R, P]
	listener Listener[P]
	overlay  overlay.Overlay
	opts     routerOptions

	mu      sync.Mutex
	lastSeq uint64
}

// Compile-time check that Router is a Handler.
var _ Handler[int] = (*Router[int, int])(nil)

// NewRouter returns a Router. listener may be nil.
func NewRouter[R, P any](proc Processor[R, P], listener Listener[P], ov overlay.Overlay, opts ...RouterOption) *Router[R, P] {
	o := routerOptions{
		metrics: nopMetrics{},
		logger:  slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &Router[R, P]{
		proc:     proc,
		listener: listener,
		overlay:  ov,
		opts:     o,
	}
}

// Route implements [Handler].
func (r *Router[R, P]) Route(ctx context.Context, out Outcome[R]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if out.Seq != 0 && out.Seq <= r.lastSeq {
		r.opts.metrics.RecordStale(ctx, ReasonSuperseded)
		r.opts.logger.Debug("pipeline: superseded outcome discarded",
			"seq", out.Seq, "last_seq", r.lastSeq, "err", ErrStaleOutcome)
		return
	}
	if out.Seq != 0 {
		r.lastSeq = out.Seq
	}

	if out.Err != nil {
		r.proc.OnFailure(out.Err)
		return
	}

	if payload, ok := r.proc.Payload(out.Result); ok && r.listener != nil {
		r.listener.OnResult(payload)
	}

	prims := r.proc.Primitives(out.Result)
	if r.opts.mapper != nil {
		prims = r.opts.mapper.Map(out.Frame, prims)
	}
	overlay.Apply(r.overlay, prims)
}

// LastSeq returns the sequence number of the last routed outcome.
func (r *Router[R, P]) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}
