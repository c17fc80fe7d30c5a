package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/types"
)

type storeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *storeMetrics) RecordStore(_ context.Context, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[status]++
}

func (m *storeMetrics) count(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[status]
}

// failingStore rejects every write.
type failingStore struct{ err error }

func (f failingStore) Save(context.Context, ...Record) error { return f.err }
func (f failingStore) Recent(context.Context, int) ([]Record, error) { return nil, f.err }

func okOutcome(seq uint64) pipeline.Outcome[*types.DetectionResult] {
	return pipeline.Outcome[*types.DetectionResult]{
		Seq:   seq,
		Frame: types.FrameMetadata{Width: 640, Height: 480},
		Result: &types.DetectionResult{
			Provider:   "mock",
			Detections: []types.Detection{{Label: "cat", Confidence: 0.8}},
		},
		Latency: 10 * time.Millisecond,
	}
}

func runRecorder(t *testing.T, r *Recorder) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestRecorder_RouteCopiesOutcome(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore(8)
	r := NewRecorder(mem)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Route(context.Background(), okOutcome(3))
	r.Route(context.Background(), pipeline.Outcome[*types.DetectionResult]{
		Seq: 4,
		Err: fmt.Errorf("%w: timeout", pipeline.ErrDetection),
	})
	if r.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", r.Pending())
	}

	stop := runRecorder(t, r)
	stop()

	got, err := mem.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	failed, ok := got[0], got[1]
	if ok.Seq != 3 || ok.Provider != "mock" || len(ok.Detections) != 1 || ok.Error != "" {
		t.Errorf("ok record = %+v", ok)
	}
	if !ok.CreatedAt.Equal(fixed) || ok.Latency != 10*time.Millisecond {
		t.Errorf("ok record timing = %v / %v", ok.CreatedAt, ok.Latency)
	}
	if failed.Seq != 4 || failed.Error == "" || failed.Detections != nil {
		t.Errorf("failed record = %+v", failed)
	}
	if ok.ID == failed.ID {
		t.Error("records share an ID")
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	t.Parallel()

	m := &storeMetrics{}
	r := NewRecorder(NewMemoryStore(8), WithBuffer(2), WithMetrics(m))

	for i := range 5 {
		r.Route(context.Background(), okOutcome(uint64(i+1)))
	}
	if r.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", r.Pending())
	}
	if got := m.count(StatusDropped); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestRecorder_WritesWhileRunning(t *testing.T) {
	t.Parallel()

	m := &storeMetrics{}
	mem := NewMemoryStore(16)
	r := NewRecorder(mem, WithMetrics(m))
	stop := runRecorder(t, r)
	defer stop()

	for i := range 5 {
		r.Route(context.Background(), okOutcome(uint64(i+1)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.count(StatusWritten) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d records written", m.count(StatusWritten))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if mem.Len() != 5 {
		t.Errorf("Len = %d, want 5", mem.Len())
	}
}

func TestRecorder_StoreErrorIsCounted(t *testing.T) {
	t.Parallel()

	m := &storeMetrics{}
	r := NewRecorder(failingStore{err: errors.New("disk full")}, WithMetrics(m))
	r.Route(context.Background(), okOutcome(1))
	r.Route(context.Background(), okOutcome(2))

	stop := runRecorder(t, r)
	stop()

	if got := m.count(StatusError); got != 2 {
		t.Errorf("error = %d, want 2", got)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d after flush, want 0", r.Pending())
	}
}

func TestRecorder_FlushesInBatches(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		batches []int
	)
	s := &batchStore{save: func(recs []Record) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, len(recs))
	}}
	r := NewRecorder(s, WithBuffer(100))
	for i := range defaultBatch + 5 {
		r.Route(context.Background(), okOutcome(uint64(i+1)))
	}

	stop := runRecorder(t, r)
	stop()

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, n := range batches {
		if n > defaultBatch {
			t.Errorf("batch of %d exceeds %d", n, defaultBatch)
		}
		total += n
	}
	if total != defaultBatch+5 {
		t.Errorf("wrote %d records, want %d", total, defaultBatch+5)
	}
}

type batchStore struct {
	save func([]Record)
}

func (b *batchStore) Save(_ context.Context, recs ...Record) error {
	b.save(recs)
	return nil
}

func (b *batchStore) Recent(context.Context, int) ([]Record, error) { return nil, nil }
