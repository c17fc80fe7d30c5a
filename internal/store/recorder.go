package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Record statuses reported to [Metrics].
const (
	StatusWritten = "written"
	StatusDropped = "dropped"
	StatusError   = "error"
)

const (
	defaultBuffer     = 64
	defaultBatch      = 32
	flushTimeout      = 5 * time.Second
	defaultRecentSize = 256
)

// Metrics receives recorder telemetry. *observe.Metrics satisfies it.
type Metrics interface {
	RecordStore(ctx context.Context, status string)
}

type nopMetrics struct{}

func (nopMetrics) RecordStore(context.Context, string) {}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithBuffer sets the queue capacity. Values below 1 are ignored.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Record, n)
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) RecorderOption {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// Recorder logs detection outcomes to a [Store] without blocking the caller.
// It implements pipeline.Handler for *types.DetectionResult; run [Recorder.Run]
// in its own goroutine to drain the queue.
type Recorder struct {
	store   Store
	queue   chan Record
	metrics Metrics
	log     *slog.Logger
	now     func() time.Time
}

var _ pipeline.Handler[*types.DetectionResult] = (*Recorder)(nil)

// NewRecorder creates a [Recorder] writing to s.
func NewRecorder(s Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   s,
		queue:   make(chan Record, defaultBuffer),
		metrics: nopMetrics{},
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route enqueues out. When the queue is full the record is dropped.
func (r *Recorder) Route(ctx context.Context, out pipeline.Outcome[*types.DetectionResult]) {
	rec := Record{
		ID:        uuid.New(),
		Seq:       out.Seq,
		Frame:     out.Frame,
		Latency:   out.Latency,
		CreatedAt: r.now().UTC(),
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	} else if out.Result != nil {
		rec.Provider = out.Result.Provider
		rec.Detections = out.Result.Detections
	}

	select {
	case r.queue <- rec:
	default:
		r.metrics.RecordStore(ctx, StatusDropped)
		r.log.Debug("detection log full, dropping record", "seq", out.Seq)
	}
}

// Pending returns the number of queued records.
func (r *Recorder) Pending() int { return len(r.queue) }

// Run writes queued records in batches until ctx is cancelled, then flushes
// whatever is still queued under a short deadline. It always returns nil so
// it can run inside an errgroup without tearing the group down.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			defer cancel()
			for batch := r.drain(nil); len(batch) > 0; batch = r.drain(nil) {
				r.write(fctx, batch)
			}
			return nil
		case rec := <-r.queue:
			r.write(ctx, r.drain([]Record{rec}))
		}
	}
}

// drain appends queued records to batch without blocking, up to
// defaultBatch in total.
func (r *Recorder) drain(batch []Record) []Record {
	for len(batch) < defaultBatch {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) write(ctx context.Context, batch []Record) {
	if err := r.store.Save(ctx, batch...); err != nil {
		r.log.Warn("detection log write failed", "records", len(batch), "err", err)
		for range batch {
			r.metrics.RecordStore(ctx, StatusError)
		}
		return
	}
	for range batch {
		r.metrics.RecordStore(ctx, StatusWritten)
	}
}
