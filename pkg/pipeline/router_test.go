package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/makeabledk/firebasevision/pkg/geometry"
	"github.com/makeabledk/firebasevision/pkg/overlay"
	ovmock "github.com/makeabledk/firebasevision/pkg/overlay/mock"
	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/provider/detector/mock"
	"github.com/makeabledk/firebasevision/pkg/types"
)

func success(seq uint64, dets ...types.Detection) pipeline.Outcome[result] {
	return pipeline.Outcome[result]{
		Seq:    seq,
		Frame:  types.FrameMetadata{Width: 100, Height: 100},
		Result: &types.DetectionResult{Detections: dets},
	}
}

type payloadRecorder struct {
	payloads [][]types.Detection
}

func (r *payloadRecorder) OnResult(p []types.Detection) { r.payloads = append(r.payloads, p) }

func TestRouter_EmptyPayloadStillClearsOverlay(t *testing.T) {
	ov := &ovmock.Overlay{}
	rec := &payloadRecorder{}
	r := pipeline.NewRouter[result, []types.Detection](&pipeline.DetectionProcessor{}, rec, ov)

	r.Route(context.Background(), success(1, types.Detection{Label: "a"}))
	r.Route(context.Background(), success(2))

	if len(rec.payloads) != 1 {
		t.Errorf("listener calls = %d, want 1 (empty result has no payload)", len(rec.payloads))
	}
	calls := ov.Calls()
	// seq 1: clear + add, seq 2: clear only.
	if len(calls) != 3 || calls[2].Op != ovmock.OpClear {
		t.Fatalf("calls = %+v", calls)
	}
	if len(ov.Primitives()) != 0 {
		t.Error("stale primitive survived a newer empty result")
	}
}

func TestRouter_DropsSupersededOutcome(t *testing.T) {
	ov := &ovmock.Overlay{}
	r := pipeline.NewRouter[result, []types.Detection](&pipeline.DetectionProcessor{}, nil, ov)

	r.Route(context.Background(), success(5, types.Detection{Label: "new"}))
	r.Route(context.Background(), success(4, types.Detection{Label: "old"}))
	r.Route(context.Background(), success(5, types.Detection{Label: "dup"}))

	ps := ov.Primitives()
	if len(ps) != 1 || ps[0].Label != "new" {
		t.Fatalf("primitives = %+v, want only new", ps)
	}
	if r.LastSeq() != 5 {
		t.Errorf("last seq = %d, want 5", r.LastSeq())
	}
}

func TestRouter_FailureTouchesNothingElse(t *testing.T) {
	ov := &ovmock.Overlay{}
	rec := &payloadRecorder{}
	var got error
	proc := &pipeline.DetectionProcessor{Failure: func(err error) { got = err }}
	r := pipeline.NewRouter[result, []types.Detection](proc, rec, ov)

	r.Route(context.Background(), success(1, types.Detection{Label: "keep"}))
	ov.Reset()

	fail := pipeline.Outcome[result]{Seq: 2, Err: errors.New("boom")}
	r.Route(context.Background(), fail)

	if got == nil {
		t.Fatal("failure hook not called")
	}
	if ov.MutationCount() != 0 || len(rec.payloads) != 1 {
		t.Errorf("failure mutated state: overlay=%d listener=%d", ov.MutationCount(), len(rec.payloads))
	}
}

func TestRouter_UsesGeometryAtRoutingTime(t *testing.T) {
	g := geometry.New(types.Size{Width: 200, Height: 200}, false)
	canvas := overlay.NewCanvas()
	r := pipeline.NewRouter[result, []types.Detection](&pipeline.DetectionProcessor{}, nil, canvas,
		pipeline.WithMapper(g))

	det := types.Detection{Label: "a", Box: types.Rect{Left: 10, Top: 10, Right: 20, Bottom: 20}}
	r.Route(context.Background(), success(1, det))
	if got := canvas.Snapshot().Primitives[0].Rect; got.Right != 40 {
		t.Fatalf("right = %v, want 40 (scale 2)", got.Right)
	}

	// Display rotated between dispatch and routing: the new geometry applies.
	g.SetDisplay(types.Size{Width: 400, Height: 400}, false)
	r.Route(context.Background(), success(2, det))
	if got := canvas.Snapshot().Primitives[0].Rect; got.Right != 80 {
		t.Fatalf("right = %v, want 80 (scale 4)", got.Right)
	}
	if v := canvas.Version(); v != 2 {
		t.Errorf("canvas version = %d, want 2 (one replace per route)", v)
	}
}

func TestRouter_RotatedFrameLandsOnPortraitDisplay(t *testing.T) {
	display := types.Size{Width: 1080, Height: 1920}
	g := geometry.New(display, true)
	g.SetCameraInfo(types.Size{Width: 640, Height: 480}, types.FacingBack)
	canvas := overlay.NewCanvas()
	r := pipeline.NewRouter[result, []types.Detection](&pipeline.DetectionProcessor{}, nil, canvas,
		pipeline.WithMapper(g))

	// The detector reports the lower-right quarter of the raw sensor frame.
	prov := &mock.Provider{Result: &types.DetectionResult{Detections: []types.Detection{
		{Label: "cup", Box: types.Rect{Left: 320, Top: 240, Right: 640, Bottom: 480}},
	}}}
	routed := make(chan struct{}, 1)
	gate := pipeline.NewGate[result](prov, pipeline.HandlerFunc[result](func(ctx context.Context, out pipeline.Outcome[result]) {
		r.Route(ctx, out)
		routed <- struct{}{}
	}))
	t.Cleanup(func() { _ = gate.Close() })

	frame := types.Frame{
		Data:     []byte{1},
		Metadata: types.FrameMetadata{Width: 640, Height: 480, Rotation: types.Rotation90},
	}
	if !gate.Submit(frame) {
		t.Fatal("frame not accepted")
	}
	select {
	case <-routed:
	case <-time.After(2 * time.Second):
		t.Fatal("outcome not routed")
	}

	ps := canvas.Snapshot().Primitives
	if len(ps) != 1 {
		t.Fatalf("primitives = %+v, want 1", ps)
	}
	got := ps[0].Rect
	if got.Left < 0 || got.Top < 0 || got.Right > float64(display.Width) || got.Bottom > float64(display.Height) {
		t.Fatalf("box %+v outside %s display", got, display)
	}
	// Turned upright, the raw lower-right quarter is the lower-left quarter.
	want := types.Rect{Left: 0, Top: 960, Right: 540, Bottom: 1920}
	if got != want {
		t.Errorf("box = %+v, want %+v", got, want)
	}
}

func TestDetectionProcessor(t *testing.T) {
	res := &types.DetectionResult{Detections: []types.Detection{
		{Label: "cup", Confidence: 0.9},
		{Label: "blur", Confidence: 0.1},
		{Label: "text", Text: "EXIT"},
	}}

	tests := []struct {
		name      string
		min       float64
		wantKinds []overlay.Kind
		wantLabel []string
	}{
		{
			name:      "no threshold",
			wantKinds: []overlay.Kind{overlay.KindBox, overlay.KindBox, overlay.KindText},
			wantLabel: []string{"cup", "blur", "EXIT"},
		},
		{
			name:      "threshold keeps unscored",
			min:       0.5,
			wantKinds: []overlay.Kind{overlay.KindBox, overlay.KindText},
			wantLabel: []string{"cup", "EXIT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &pipeline.DetectionProcessor{MinConfidence: tt.min}
			ps := p.Primitives(res)
			if len(ps) != len(tt.wantKinds) {
				t.Fatalf("primitives = %+v", ps)
			}
			for i := range ps {
				if ps[i].Kind != tt.wantKinds[i] || ps[i].Label != tt.wantLabel[i] {
					t.Errorf("primitive %d = %+v", i, ps[i])
				}
			}
			if _, ok := p.Payload(res); !ok {
				t.Error("payload missing")
			}
		})
	}

	if _, ok := (&pipeline.DetectionProcessor{}).Payload(nil); ok {
		t.Error("nil result produced a payload")
	}
}

func TestDetectionProcessor_SetMinConfidence(t *testing.T) {
	res := &types.DetectionResult{Detections: []types.Detection{
		{Label: "cup", Confidence: 0.9},
		{Label: "blur", Confidence: 0.4},
	}}
	p := &pipeline.DetectionProcessor{MinConfidence: 0.5}
	if got := len(p.Primitives(res)); got != 1 {
		t.Fatalf("primitives = %d, want 1", got)
	}
	p.SetMinConfidence(0.3)
	if got := len(p.Primitives(res)); got != 2 {
		t.Errorf("primitives after lowering threshold = %d, want 2", got)
	}
}

func TestTee_RoutesToEveryHandlerInOrder(t *testing.T) {
	var order []string
	mk := func(name string) pipeline.Handler[result] {
		return pipeline.HandlerFunc[result](func(_ context.Context, out pipeline.Outcome[result]) {
			if out.Seq != 7 {
				t.Errorf("%s got seq %d, want 7", name, out.Seq)
			}
			order = append(order, name)
		})
	}
	tee := pipeline.Tee[result]{mk("router"), mk("store")}
	tee.Route(context.Background(), success(7))

	if len(order) != 2 || order[0] != "router" || order[1] != "store" {
		t.Errorf("order = %v, want [router store]", order)
	}
}
