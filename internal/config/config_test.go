package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/makeabledk/firebasevision/internal/config"
	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/provider/detector"
	"github.com/makeabledk/firebasevision/pkg/provider/detector/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

capture:
  device: gocv
  source: "0"
  width: 1280
  height: 720
  fps: 15
  facing: front
  rotation: 90
  max_zoom: 30
  focus_mode: continuous

display:
  width: 1080
  height: 1920
  portrait: true

providers:
  detector:
    name: remote
    base_url: ws://inference:8000/detect
    options:
      token: secret
  fallbacks:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini

permission:
  mode: prompt

pipeline:
  detect_timeout: 2s
  min_confidence: 0.4
  max_failures: 3
  reset_timeout: 10s

store:
  postgres_dsn: postgres://localhost/visiond
  buffer: 128
`

const minimalYAML = `
capture:
  width: 640
  height: 480
display:
  width: 1080
  height: 1920
providers:
  detector:
    name: mock
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loader ───────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Capture.Device != "gocv" || cfg.Capture.Rotation != 90 || cfg.Capture.MaxZoom != 30 {
		t.Errorf("capture: got %+v", cfg.Capture)
	}
	if !cfg.Display.Portrait || cfg.Display.Width != 1080 {
		t.Errorf("display: got %+v", cfg.Display)
	}
	if cfg.Providers.Detector.Name != "remote" {
		t.Errorf("detector name: got %q", cfg.Providers.Detector.Name)
	}
	if cfg.Providers.Detector.Options["token"] != "secret" {
		t.Errorf("detector options: got %v", cfg.Providers.Detector.Options)
	}
	if len(cfg.Providers.Fallbacks) != 1 || cfg.Providers.Fallbacks[0].Model != "gpt-4o-mini" {
		t.Errorf("fallbacks: got %+v", cfg.Providers.Fallbacks)
	}
	if cfg.Permission.Mode != config.PermissionPrompt {
		t.Errorf("permission mode: got %q", cfg.Permission.Mode)
	}
	if cfg.Pipeline.DetectTimeout != 2*time.Second || cfg.Pipeline.ResetTimeout != 10*time.Second {
		t.Errorf("pipeline durations: got %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MinConfidence != 0.4 {
		t.Errorf("min_confidence: got %v", cfg.Pipeline.MinConfidence)
	}
	if cfg.Store.Buffer != 128 {
		t.Errorf("store buffer: got %d", cfg.Store.Buffer)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Capture.Device != "push" {
		t.Errorf("capture device: got %q, want push", cfg.Capture.Device)
	}
	if cfg.Capture.Facing != "back" {
		t.Errorf("facing: got %q, want back", cfg.Capture.Facing)
	}
	if cfg.Permission.Mode != config.PermissionGranted {
		t.Errorf("permission mode: got %q, want granted", cfg.Permission.Mode)
	}
	if cfg.Store.Buffer != config.DefaultStoreBuffer {
		t.Errorf("store buffer: got %d", cfg.Store.Buffer)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nbogus: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownDetector(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateDetector(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_UnknownCapture(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateCapture(config.CaptureConfig{Device: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredDetector(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &mock.Provider{}
	var got config.ProviderEntry
	reg.RegisterDetector("mock", func(e config.ProviderEntry) (detector.Provider, error) {
		got = e
		return want, nil
	})

	p, err := reg.CreateDetector(config.ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != want {
		t.Error("factory result not returned")
	}
	if got.Model != "m1" {
		t.Errorf("factory entry: got %+v", got)
	}
	if names := reg.DetectorNames(); len(names) != 1 || names[0] != "mock" {
		t.Errorf("DetectorNames: got %v", names)
	}
}

func TestRegistry_RegisteredCapture(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterCapture("push", func(c config.CaptureConfig) (capture.Device, error) {
		return capture.NewPush(capture.PushConfig{MaxZoom: c.MaxZoom}), nil
	})

	dev, err := reg.CreateCapture(config.CaptureConfig{Device: "push", MaxZoom: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev.Zoom().Max != 7 {
		t.Errorf("zoom max: got %d, want 7", dev.Zoom().Max)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterDetector("bad", func(config.ProviderEntry) (detector.Provider, error) {
		return nil, boom
	})
	if _, err := reg.CreateDetector(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}
