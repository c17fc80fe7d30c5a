// Package app wires every visiond subsystem into a running daemon.
//
// The App struct owns the full lifecycle: New builds the detector chain, the
// detection gate, the preview geometry and the lifecycle controller and
// connects them; Run serves the HTTP API and the background writers until the
// context is cancelled or the owner terminates; Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithDevice, WithStore,
// etc.). When an option is not provided, New creates the real implementation
// from the config and the provider registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/makeabledk/firebasevision/internal/config"
	"github.com/makeabledk/firebasevision/internal/health"
	"github.com/makeabledk/firebasevision/internal/observe"
	"github.com/makeabledk/firebasevision/internal/resilience"
	"github.com/makeabledk/firebasevision/internal/server"
	"github.com/makeabledk/firebasevision/internal/store"
	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/geometry"
	"github.com/makeabledk/firebasevision/pkg/lifecycle"
	"github.com/makeabledk/firebasevision/pkg/overlay"
	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// detectorRetireDelay is how long a replaced detector chain stays open so a
// frame already in flight on it can finish.
const detectorRetireDelay = 5 * time.Second

// Task is a background loop run alongside the HTTP server, such as the
// config watcher.
type Task func(ctx context.Context) error

// App owns all subsystem lifetimes.
type App struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	reg     *config.Registry
	metrics *observe.Metrics
	level   *slog.LevelVar

	metricsHandler http.Handler
	listener       pipeline.Listener[[]types.Detection]
	autoActivate   bool

	// Subsystems, initialised in New and torn down in Shutdown.
	host       *lifecycle.Host
	prompt     *lifecycle.Prompt
	permission lifecycle.Permission
	registry   *lifecycle.Registry
	device     capture.Device
	geometry   *geometry.Geometry
	zoom       *geometry.Zoom
	pinch      *geometry.Pinch
	canvas     *overlay.Canvas
	proc       *pipeline.DetectionProcessor
	router     *pipeline.Router[*types.DetectionResult, []types.Detection]
	gate       *pipeline.Gate[*types.DetectionResult]
	controller *lifecycle.Controller
	store      store.Store
	pool       *pgxpool.Pool
	recorder   *store.Recorder
	server     *server.Server

	detMu    sync.RWMutex
	detector *resilience.DetectorFallback

	// finished is closed when the owner is destroyed or asked to finish,
	// which ends Run.
	finished   chan struct{}
	finishOnce sync.Once

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a capture device instead of creating one from config.
func WithDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithStore injects a detection log instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener receives the kept detections of every routed result.
func WithListener(l pipeline.Listener[[]types.Detection]) Option {
	return func(a *App) { a.listener = l }
}

// WithAutoActivate makes Run activate the owner once it starts, as if the
// hosting screen came to the foreground.
func WithAutoActivate(on bool) Option {
	return func(a *App) { a.autoActivate = on }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg supplies the
// detector and capture factories named in cfg.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		reg:      reg,
		finished: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Geometry and overlay ──────────────────────────────────────────
	a.geometry = geometry.New(types.Size{Width: cfg.Display.Width, Height: cfg.Display.Height}, cfg.Display.Portrait)
	a.zoom = geometry.NewZoom()
	a.pinch = geometry.NewPinch(a.zoom, geometry.ZoomListenerFunc(a.onZoom))
	a.canvas = overlay.NewCanvas()

	// ── 2. Capture device ────────────────────────────────────────────────
	if a.device == nil {
		dev, err := reg.CreateCapture(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("app: create capture device %q: %w", cfg.Capture.Device, err)
		}
		a.device = dev
	}

	// ── 3. Detector chain ────────────────────────────────────────────────
	chain, err := a.buildDetector(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build detector: %w", err)
	}
	a.detector = chain

	// ── 4. Detection log ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.recorder = store.NewRecorder(a.store,
		store.WithBuffer(cfg.Store.Buffer),
		store.WithMetrics(a.metrics),
	)

	// ── 5. Pipeline ──────────────────────────────────────────────────────
	a.proc = &pipeline.DetectionProcessor{MinConfidence: cfg.Pipeline.MinConfidence}
	a.router = pipeline.NewRouter[*types.DetectionResult, []types.Detection](a.proc, a.listener, a.canvas,
		pipeline.WithMapper(a.geometry),
		pipeline.WithRouterMetrics(a.metrics),
	)
	a.gate = pipeline.NewGate[*types.DetectionResult](traced(chain),
		pipeline.Tee[*types.DetectionResult]{a.router, a.recorder},
		pipeline.WithName(cfg.Providers.Detector.Name),
		pipeline.WithDetectTimeout(cfg.Pipeline.DetectTimeout),
		pipeline.WithMetrics(a.metrics),
	)

	// ── 6. Lifecycle ─────────────────────────────────────────────────────
	a.initPermission(cfg.Permission.Mode)
	a.host = lifecycle.NewHost(a.finish)
	a.host.AddObserver(&finishWatch{app: a})
	a.registry = lifecycle.NewRegistry(a.metrics)

	a.controller, err = lifecycle.New(lifecycle.Config{
		Owner:      a.host,
		Permission: a.permission,
		Device:     a.device,
		Pipeline:   a.gate,
		Registry:   a.registry,
		Display:    a.geometry,
		Zoom:       a.zoom,
		Overlay:    a.canvas,
		OnReady:    a.onReady,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	if err := a.controller.Attach(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: attach controller: %w", err)
	}

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// buildDetector creates the primary detector and its fallbacks, each behind
// its own circuit breaker.
func (a *App) buildDetector(cfg *config.Config) (*resilience.DetectorFallback, error) {
	primary, err := a.reg.CreateDetector(cfg.Providers.Detector)
	if err != nil {
		return nil, fmt.Errorf("create detector %q: %w", cfg.Providers.Detector.Name, err)
	}
	slog.Info("provider created", "kind", "detector", "name", cfg.Providers.Detector.Name)

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Pipeline.MaxFailures,
			ResetTimeout: cfg.Pipeline.ResetTimeout,
			HalfOpenMax:  cfg.Pipeline.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("detector circuit breaker state changed",
					"provider", name, "from", from.String(), "to", to.String())
			},
		},
	}
	chain := resilience.NewDetectorFallback(primary, cfg.Providers.Detector.Name, fbCfg, a.metrics)

	for i, entry := range cfg.Providers.Fallbacks {
		p, err := a.reg.CreateDetector(entry)
		if err != nil {
			_ = chain.Close()
			return nil, fmt.Errorf("create fallback detector %d %q: %w", i, entry.Name, err)
		}
		chain.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "detector_fallback", "name", entry.Name)
	}
	return chain, nil
}

// initStore opens the PostgreSQL detection log, or keeps the most recent
// records in memory when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = store.NewMemoryStore(0)
		return nil
	}

	pool, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.pool = pool
	a.store = pg
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("detection log connected", "backend", "postgres")
	return nil
}

func (a *App) initPermission(mode config.PermissionMode) {
	switch mode {
	case config.PermissionPrompt:
		a.prompt = lifecycle.NewPrompt(false)
		a.permission = a.prompt
	case config.PermissionDenied:
		a.permission = lifecycle.Static(false)
	default:
		a.permission = lifecycle.Static(true)
	}
}

func (a *App) initServer() error {
	checkers := []health.Checker{
		health.Lifecycle(a.controller),
		health.Available("detector", func() bool { return a.currentDetector().Available() }),
	}
	if p, ok := a.store.(health.Pinger); ok && a.pool != nil {
		checkers = append(checkers, health.Ping("store", p))
	}

	cfg := server.Config{
		Owner:          a.host,
		Controller:     a.controller,
		Canvas:         a.canvas,
		Camera:         a.device,
		Zoom:           a.zoom,
		Touch:          a.pinch,
		Geometry:       a.geometry,
		Detections:     a.store,
		Stats:          a.gate.Stats,
		Breakers:       func() []resilience.BreakerStatus { return a.currentDetector().Status() },
		Controllers:    a.registry.IDs,
		Health:         health.New(checkers...),
		MetricsHandler: a.metricsHandler,
		Metrics:        a.metrics,
	}
	if a.prompt != nil {
		cfg.Permission = a.prompt
	}
	if p, ok := a.device.(server.FramePusher); ok {
		cfg.Frames = p
	}
	if c, ok := a.device.(server.ControlsReporter); ok {
		cfg.Controls = c
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// ─── Callbacks ───────────────────────────────────────────────────────────────

// onReady applies the configured torch and focus mode to a freshly started
// device.
func (a *App) onReady() {
	c := a.config().Capture
	if c.Torch {
		if err := a.device.SetTorch(true); err != nil {
			slog.Warn("could not switch torch on", "err", err)
		}
	}
	if c.FocusMode != "" {
		if err := a.device.SetFocusMode(capture.FocusMode(c.FocusMode)); err != nil {
			slog.Warn("could not set focus mode", "mode", c.FocusMode, "err", err)
		}
	}
	slog.Info("capture ready", "zoom_supported", a.zoom.Supported())
}

func (a *App) onZoom(percent int) {
	a.metrics.RecordZoom(context.Background(), percent)
	slog.Debug("zoom changed", "percent", percent)
}

// finish ends Run. The controller asks the owner to finish after a
// permission denial.
func (a *App) finish() {
	a.finishOnce.Do(func() { close(a.finished) })
}

// finishWatch ends Run once the owner is destroyed.
type finishWatch struct{ app *App }

func (w *finishWatch) OnOwnerEvent(ev lifecycle.Event) {
	if ev == lifecycle.EventDestroyed {
		w.app.finish()
	}
}

func (a *App) currentDetector() *resilience.DetectorFallback {
	a.detMu.RLock()
	defer a.detMu.RUnlock()
	return a.detector
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Host returns the in-process owner that the HTTP API drives.
func (a *App) Host() *lifecycle.Host { return a.host }

// Controller returns the lifecycle controller.
func (a *App) Controller() *lifecycle.Controller { return a.controller }

// Canvas returns the overlay canvas.
func (a *App) Canvas() *overlay.Canvas { return a.canvas }

// Gate returns the detection gate.
func (a *App) Gate() *pipeline.Gate[*types.DetectionResult] { return a.gate }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API, drains the detection log and runs tasks until ctx
// is cancelled or the owner is destroyed. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	srvCfg := a.config().Server
	var tlsFiles *server.TLSFiles
	if t := srvCfg.TLS; t != nil {
		tlsFiles = &server.TLSFiles{CertFile: t.CertFile, KeyFile: t.KeyFile}
	}
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, srvCfg.ListenAddr, tlsFiles)
	})
	g.Go(func() error { return a.recorder.Run(gctx) })
	for _, t := range tasks {
		g.Go(func() error { return t(gctx) })
	}
	g.Go(func() error {
		select {
		case <-a.finished:
			slog.Info("owner finished, stopping")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if a.autoActivate {
		a.host.Activate()
	}
	slog.Info("app running", "controllers", a.registry.Len(), "state", a.controller.State().String())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: run: %w", err)
	}
	return nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies a reloaded configuration. It is a config.ChangeFunc.
// Sections that need a restart are only logged.
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.DetectorChanged {
		a.swapDetector(next)
	}
	if d.MinConfidenceChanged {
		a.proc.SetMinConfidence(next.Pipeline.MinConfidence)
		slog.Info("min confidence changed", "min_confidence", next.Pipeline.MinConfidence)
	}
	if d.TorchChanged {
		if err := a.device.SetTorch(next.Capture.Torch); err != nil {
			slog.Warn("could not apply torch", "on", next.Capture.Torch, "err", err)
		}
	}
	if d.FocusChanged && next.Capture.FocusMode != "" {
		if err := a.device.SetFocusMode(capture.FocusMode(next.Capture.FocusMode)); err != nil {
			slog.Warn("could not apply focus mode", "mode", next.Capture.FocusMode, "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}

	a.cfgMu.Lock()
	a.cfg = next
	a.cfgMu.Unlock()
}

func (a *App) config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// swapDetector builds a new detector chain and installs it in the gate. The
// old chain is closed after a grace period so an in-flight frame can finish.
func (a *App) swapDetector(next *config.Config) {
	chain, err := a.buildDetector(next)
	if err != nil {
		slog.Error("detector reload failed, keeping current detector", "err", err)
		return
	}

	a.detMu.Lock()
	a.detector = chain
	a.detMu.Unlock()

	prev := a.gate.SetDetector(traced(chain))
	slog.Info("detector swapped", "name", next.Providers.Detector.Name, "fallbacks", len(next.Providers.Fallbacks))

	c, ok := prev.(io.Closer)
	if !ok {
		return
	}
	time.AfterFunc(detectorRetireDelay, func() {
		if err := c.Close(); err != nil {
			slog.Warn("close retired detector", "err", err)
		}
	})
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown destroys every controller and tears down all subsystems. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "controllers", a.registry.Len(), "closers", len(a.closers))

		// Destroying the controller stops the gate, releases the device and
		// closes the detector chain.
		if err := a.registry.TeardownAll(); err != nil {
			slog.Warn("controller teardown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far. Used when New fails halfway.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	if a.detector != nil {
		_ = a.detector.Close()
	}
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
