package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/makeabledk/firebasevision/internal/health"
	"github.com/makeabledk/firebasevision/internal/resilience"
	"github.com/makeabledk/firebasevision/internal/store"
	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/geometry"
	"github.com/makeabledk/firebasevision/pkg/lifecycle"
	"github.com/makeabledk/firebasevision/pkg/overlay"
	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// ── Fixture ─────────────────────────────────────────────────────────────────

type stubController struct {
	mu    sync.Mutex
	state lifecycle.State
	err   error
}

func (c *stubController) State() lifecycle.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *stubController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

type frameLog struct {
	mu     sync.Mutex
	frames []types.Frame
}

func (l *frameLog) Submit(f types.Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
	return true
}

func (l *frameLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

type fixture struct {
	host   *lifecycle.Host
	ctrl   *stubController
	prompt *lifecycle.Prompt
	push   *capture.Push
	zoom   *geometry.Zoom
	canvas *overlay.Canvas
	log    *store.MemoryStore
	sink   *frameLog
	srv    *Server
	ts     *httptest.Server
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		host:   lifecycle.NewHost(nil),
		ctrl:   &stubController{state: lifecycle.StateStarted},
		prompt: lifecycle.NewPrompt(false),
		push: capture.NewPush(capture.PushConfig{
			PreviewSize: types.Size{Width: 640, Height: 480},
			MaxZoom:     10,
			Torch:       true,
		}),
		zoom:   geometry.NewZoom(),
		canvas: overlay.NewCanvas(),
		log:    store.NewMemoryStore(16),
		sink:   &frameLog{},
	}
	if err := f.push.Start(context.Background(), f.sink); err != nil {
		t.Fatalf("push start: %v", err)
	}
	f.zoom.Attach(f.push, 10, true)

	geo := geometry.New(types.Size{Width: 1080, Height: 1920}, true)
	geo.SetCameraInfo(f.push.PreviewSize(), f.push.Facing())

	cfg := Config{
		Owner:      f.host,
		Controller: f.ctrl,
		Canvas:     f.canvas,
		Permission: f.prompt,
		Frames:     f.push,
		Controls:   f.push,
		Camera:     f.push,
		Zoom:       f.zoom,
		Touch:      geometry.NewPinch(f.zoom, nil),
		Geometry:   geo,
		Detections: f.log,
		Stats:      func() pipeline.GateStats { return pipeline.GateStats{Accepted: 3, Dropped: 1} },
		Breakers: func() []resilience.BreakerStatus {
			return []resilience.BreakerStatus{{Name: "mock", State: "closed"}}
		},
		Controllers: func() []uuid.UUID {
			return []uuid.UUID{uuid.MustParse("6f1c1b0e-8d4a-4b8e-9f51-2a7c3d9e0b12")}
		},
		Health: health.New(health.Lifecycle(f.ctrl)),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("visiond_frames_total 3\n"))
		}),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = srv
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, hdr map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp, out
}

// ── Construction ────────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"owner", "controller", "canvas"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func TestLifecycle_Signals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		action string
		want   lifecycle.OwnerState
	}{
		{"activate", lifecycle.OwnerActive},
		{"deactivate", lifecycle.OwnerInactive},
		{"activate", lifecycle.OwnerActive},
		{"destroy", lifecycle.OwnerDestroyed},
	}
	for _, tt := range tests {
		resp, body := f.do(t, http.MethodPost, "/lifecycle/"+tt.action, "", nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("%s: status = %d", tt.action, resp.StatusCode)
		}
		if got := f.host.CurrentState(); got != tt.want {
			t.Errorf("%s: owner = %v, want %v", tt.action, got, tt.want)
		}
		if body["owner"] != tt.want.String() {
			t.Errorf("%s: body owner = %v", tt.action, body["owner"])
		}
	}
}

func TestLifecycle_UnknownAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/lifecycle/explode", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPermission_ResolvesPendingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result := make(chan bool, 1)
	go func() {
		ok, _ := f.prompt.Request(context.Background())
		result <- ok
	}()
	select {
	case <-f.prompt.Requested():
	case <-time.After(2 * time.Second):
		t.Fatal("request never started waiting")
	}

	resp, body := f.do(t, http.MethodPost, "/permission", `{"granted":true}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["resolved"] != float64(1) {
		t.Errorf("resolved = %v, want 1", body["resolved"])
	}
	select {
	case ok := <-result:
		if !ok {
			t.Error("request answered with denial")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request not answered")
	}
}

func TestPermission_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		body   string
		want   int
	}{
		{name: "missing field", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"granted":true,"x":1}`, want: http.StatusBadRequest},
		{name: "not prompt driven", mutate: func(c *Config) { c.Permission = nil }, body: `{"granted":true}`, want: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var muts []func(*Config)
			if tt.mutate != nil {
				muts = append(muts, tt.mutate)
			}
			f := newFixture(t, muts...)
			resp, _ := f.do(t, http.MethodPost, "/permission", tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

// ── Frames ──────────────────────────────────────────────────────────────────

func TestFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		hdr        map[string]string
		body       string
		wantStatus int
		wantFrames int
	}{
		{
			name:       "accepted",
			hdr:        map[string]string{HeaderFrameWidth: "640", HeaderFrameHeight: "480", HeaderFrameRotation: "90"},
			body:       "jpeg",
			wantStatus: http.StatusAccepted,
			wantFrames: 1,
		},
		{
			name:       "missing width",
			hdr:        map[string]string{HeaderFrameHeight: "480"},
			body:       "jpeg",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad rotation",
			hdr:        map[string]string{HeaderFrameWidth: "640", HeaderFrameHeight: "480", HeaderFrameRotation: "45"},
			body:       "jpeg",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not a number",
			hdr:        map[string]string{HeaderFrameWidth: "wide", HeaderFrameHeight: "480"},
			body:       "jpeg",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			hdr:        map[string]string{HeaderFrameWidth: "640", HeaderFrameHeight: "480"},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			resp, _ := f.do(t, http.MethodPost, "/frames", tt.body, tt.hdr)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := f.sink.len(); got != tt.wantFrames {
				t.Errorf("frames = %d, want %d", got, tt.wantFrames)
			}
		})
	}
}

func TestFrames_MetadataReachesSink(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/frames", "jpeg-bytes", map[string]string{
		HeaderFrameWidth: "640", HeaderFrameHeight: "480", HeaderFrameRotation: "270",
	})
	if body["accepted"] != true {
		t.Errorf("accepted = %v", body["accepted"])
	}
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	got := f.sink.frames[0]
	if string(got.Data) != "jpeg-bytes" {
		t.Errorf("data = %q", got.Data)
	}
	want := types.FrameMetadata{Width: 640, Height: 480, Rotation: types.Rotation270}
	if got.Metadata != want {
		t.Errorf("metadata = %+v, want %+v", got.Metadata, want)
	}
	if got.CapturedAt.IsZero() {
		t.Error("CapturedAt not set")
	}
}

func TestFrames_NotStreaming(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_ = f.push.Stop()
	resp, body := f.do(t, http.MethodPost, "/frames", "jpeg", map[string]string{
		HeaderFrameWidth: "640", HeaderFrameHeight: "480",
	})
	if resp.StatusCode != http.StatusAccepted || body["accepted"] != false {
		t.Errorf("status = %d accepted = %v, want 202 false", resp.StatusCode, body["accepted"])
	}
}

func TestFrames_NoPushDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.Frames = nil })
	resp, _ := f.do(t, http.MethodPost, "/frames", "jpeg", map[string]string{
		HeaderFrameWidth: "640", HeaderFrameHeight: "480",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

// ── Touch and controls ──────────────────────────────────────────────────────

func TestTouch_PinchOutZoomsIn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	events := []string{
		`{"action":"pointer_down","pointers":[{"x":100,"y":100},{"x":200,"y":100}]}`,
		`{"action":"move","pointers":[{"x":90,"y":100},{"x":210,"y":100}]}`,
		`{"action":"move","pointers":[{"x":80,"y":100},{"x":220,"y":100}]}`,
	}
	var body map[string]any
	for _, ev := range events {
		var resp *http.Response
		resp, body = f.do(t, http.MethodPost, "/touch", ev, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if body["level"] != float64(2) || body["percent"] != float64(20) {
		t.Errorf("zoom = %v", body)
	}
	if f.push.Controls().Zoom != 2 {
		t.Errorf("device zoom = %d, want 2", f.push.Controls().Zoom)
	}
}

func TestControls_ProducerSeesPinchZoom(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, ev := range []string{
		`{"action":"pointer_down","pointers":[{"x":100,"y":100},{"x":200,"y":100}]}`,
		`{"action":"move","pointers":[{"x":90,"y":100},{"x":210,"y":100}]}`,
	} {
		if resp, _ := f.do(t, http.MethodPost, "/touch", ev, nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("touch status = %d", resp.StatusCode)
		}
	}
	if resp, _ := f.do(t, http.MethodPut, "/torch", `{"enabled":true}`, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("torch status = %d", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/controls", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /controls status = %d", resp.StatusCode)
	}
	if body["zoom"] != float64(1) || body["torch"] != true || body["focus"] != "continuous" {
		t.Errorf("controls = %v, want zoom 1 torch on", body)
	}

	// The same state rides along with every pushed frame.
	hdr := map[string]string{HeaderFrameWidth: "640", HeaderFrameHeight: "480"}
	resp, body = f.do(t, http.MethodPost, "/frames", "jpeg", hdr)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /frames status = %d", resp.StatusCode)
	}
	c, ok := body["controls"].(map[string]any)
	if !ok || c["zoom"] != float64(1) {
		t.Errorf("frame response controls = %v", body["controls"])
	}
}

func TestControls_NotReported(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.Controls = nil })
	resp, _ := f.do(t, http.MethodGet, "/controls", "", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodPost, "/frames", "jpeg",
		map[string]string{HeaderFrameWidth: "640", HeaderFrameHeight: "480"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /frames status = %d", resp.StatusCode)
	}
	if _, ok := body["controls"]; ok {
		t.Errorf("controls reported without a reporter: %v", body)
	}
}

func TestTouch_MissingAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/touch", `{"pointers":[]}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestZoom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		detach    bool
		want      int
		wantLevel float64
	}{
		{name: "set", body: `{"level":5}`, want: http.StatusOK, wantLevel: 5},
		{name: "clamped high", body: `{"level":99}`, want: http.StatusOK, wantLevel: 10},
		{name: "clamped low", body: `{"level":-3}`, want: http.StatusOK, wantLevel: 0},
		{name: "missing level", body: `{}`, want: http.StatusBadRequest},
		{name: "unsupported", body: `{"level":1}`, detach: true, want: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if tt.detach {
				f.zoom.Detach()
			}
			resp, body := f.do(t, http.MethodPut, "/zoom", tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusOK && body["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", body["level"], tt.wantLevel)
			}
		})
	}
}

func TestTorch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPut, "/torch", `{"enabled":true}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !f.push.Controls().Torch {
		t.Error("torch not switched on")
	}

	noTorch := newFixture(t, func(c *Config) {
		c.Camera = capture.NewPush(capture.PushConfig{PreviewSize: types.Size{Width: 1, Height: 1}})
	})
	resp, body := noTorch.do(t, http.MethodPut, "/torch", `{"enabled":true}`, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if !strings.Contains(body["error"].(string), "not supported") {
		t.Errorf("error = %v", body["error"])
	}
}

func TestFocus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPut, "/focus", `{"mode":"macro"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.push.Controls().Focus != capture.FocusMacro {
		t.Errorf("focus = %q, want macro", f.push.Controls().Focus)
	}

	resp, _ = f.do(t, http.MethodPut, "/focus", `{"mode":"blurry"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown mode status = %d, want 400", resp.StatusCode)
	}
}

// ── Read side ───────────────────────────────────────────────────────────────

func TestState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ctrl.mu.Lock()
	f.ctrl.state = lifecycle.StatePaused
	f.ctrl.err = errors.New("lifecycle: device open failed: busy")
	f.ctrl.mu.Unlock()

	resp, body := f.do(t, http.MethodGet, "/state", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["state"] != "paused" || body["owner"] != "initialized" {
		t.Errorf("state = %v owner = %v", body["state"], body["owner"])
	}
	if !strings.Contains(body["error"].(string), "busy") {
		t.Errorf("error = %v", body["error"])
	}
	if _, ok := body["fit"].(map[string]any); !ok {
		t.Errorf("fit missing: %v", body["fit"])
	}
	// 640x480 preview on a 1080x1920 portrait display overflows horizontally.
	if o, ok := body["origin"].(map[string]any); !ok || o["x"] != float64(-180) || o["y"] != float64(0) {
		t.Errorf("origin = %v, want (-180, 0)", body["origin"])
	}
	if p := body["pipeline"].(map[string]any); p["accepted"] != float64(3) {
		t.Errorf("pipeline = %v", p)
	}
	if d := body["detector"].([]any); len(d) != 1 {
		t.Errorf("detector = %v", d)
	}
	if c := body["controllers"].([]any); len(c) != 1 || c[0] != "6f1c1b0e-8d4a-4b8e-9f51-2a7c3d9e0b12" {
		t.Errorf("controllers = %v", c)
	}
}

func TestOverlaySnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.canvas.Replace([]overlay.Primitive{{Kind: overlay.KindBox, Label: "cat"}})

	_, body := f.do(t, http.MethodGet, "/overlay", "", nil)
	prims := body["primitives"].([]any)
	if len(prims) != 1 || prims[0].(map[string]any)["label"] != "cat" {
		t.Errorf("primitives = %v", prims)
	}
	if body["version"] != float64(1) {
		t.Errorf("version = %v", body["version"])
	}
}

func TestDetections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for i := range 3 {
		_ = f.log.Save(context.Background(), store.Record{Seq: uint64(i + 1)})
	}

	tests := []struct {
		query     string
		want      int
		wantCount float64
	}{
		{query: "", want: http.StatusOK, wantCount: 3},
		{query: "?limit=2", want: http.StatusOK, wantCount: 2},
		{query: "?limit=0", want: http.StatusBadRequest},
		{query: "?limit=abc", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, body := f.do(t, http.MethodGet, "/detections"+tt.query, "", nil)
		if resp.StatusCode != tt.want {
			t.Errorf("%q: status = %d, want %d", tt.query, resp.StatusCode, tt.want)
			continue
		}
		if tt.want == http.StatusOK && body["count"] != tt.wantCount {
			t.Errorf("%q: count = %v, want %v", tt.query, body["count"], tt.wantCount)
		}
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if resp, _ := f.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodGet, "/readyz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d", resp.StatusCode)
	}

	f.ctrl.mu.Lock()
	f.ctrl.state = lifecycle.StatePaused
	f.ctrl.mu.Unlock()
	if resp, _ := f.do(t, http.MethodGet, "/readyz", "", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz while paused = %d, want 503", resp.StatusCode)
	}

	resp, err := f.ts.Client().Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "visiond_frames_total") {
		t.Errorf("metrics body = %q", buf.String())
	}
}

// ── Websocket ───────────────────────────────────────────────────────────────

func TestOverlayStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/overlay"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var first overlay.Snapshot
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Version != 0 || len(first.Primitives) != 0 {
		t.Errorf("initial snapshot = %+v", first)
	}

	f.canvas.Replace([]overlay.Primitive{{Kind: overlay.KindText, Label: "EXIT"}})

	var next overlay.Snapshot
	if err := wsjson.Read(ctx, conn, &next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Version != 1 || len(next.Primitives) != 1 || next.Primitives[0].Label != "EXIT" {
		t.Errorf("update = %+v", next)
	}
	if got := f.canvas.Subscribers(); got != 1 {
		t.Errorf("subscribers = %d, want 1", got)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(2 * time.Second)
	for f.canvas.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Serve ───────────────────────────────────────────────────────────────────

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln, nil) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
