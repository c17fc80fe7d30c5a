// Package server exposes the running pipeline over HTTP.
//
// The API is a thin control surface around one lifecycle controller: owner
// lifecycle signals, permission answers, pushed frames, touch events and
// camera controls go in; controller state, the current overlay and the
// detection log come out. GET /ws/overlay streams overlay snapshots over a
// websocket so a remote view can paint them as they change.
//
// Every route runs behind [observe.Middleware].
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/makeabledk/firebasevision/internal/health"
	"github.com/makeabledk/firebasevision/internal/observe"
	"github.com/makeabledk/firebasevision/internal/resilience"
	"github.com/makeabledk/firebasevision/internal/store"
	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/geometry"
	"github.com/makeabledk/firebasevision/pkg/lifecycle"
	"github.com/makeabledk/firebasevision/pkg/overlay"
	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/types"
)

const (
	// maxFrameBytes bounds the body of POST /frames.
	maxFrameBytes = 16 << 20

	// maxJSONBytes bounds every JSON request body.
	maxJSONBytes = 64 << 10

	defaultRecent = 50
	maxRecent     = 500

	shutdownTimeout = 10 * time.Second
)

// Owner receives lifecycle signals. *lifecycle.Host implements it.
type Owner interface {
	Activate()
	Deactivate()
	Destroy()
	CurrentState() lifecycle.OwnerState
}

// Controller reports the state of the lifecycle controller.
// *lifecycle.Controller implements it.
type Controller interface {
	State() lifecycle.State
	Err() error
}

// PermissionResolver answers a pending permission request.
// *lifecycle.Prompt implements it.
type PermissionResolver interface {
	Resolve(granted bool) int
	Pending() int
}

// FramePusher accepts frames produced outside the process. *capture.Push
// implements it.
type FramePusher interface {
	Offer(frame types.Frame) bool
}

// CameraControls are the optional device controls. capture.Device implements
// it.
type CameraControls interface {
	SetTorch(on bool) error
	SetFocusMode(mode capture.FocusMode) error
}

// ControlsReporter reports the control state a remote producer must apply.
// *capture.Push implements it.
type ControlsReporter interface {
	Controls() capture.Controls
}

// ZoomControl sets and reports the zoom level. *geometry.Zoom implements it.
type ZoomControl interface {
	Set(level int) (geometry.ZoomState, error)
	State() geometry.ZoomState
}

// TouchHandler consumes touch events. *geometry.Pinch implements it.
type TouchHandler interface {
	HandleTouch(ev geometry.TouchEvent)
}

// FitReporter reports the preview fit. *geometry.Geometry implements it.
type FitReporter interface {
	Fit() (geometry.Fit, bool)
}

// Config holds the collaborators of a [Server]. Owner, Controller and Canvas
// are required; a nil optional collaborator disables its routes with 409
// Conflict.
type Config struct {
	Owner      Owner
	Controller Controller
	Canvas     *overlay.Canvas

	// Permission is set only when permission is prompt driven.
	Permission PermissionResolver

	// Frames is set only when the capture device accepts pushed frames.
	Frames FramePusher

	// Controls is set only when the capture device relies on the producer to
	// apply zoom, torch and focus.
	Controls ControlsReporter

	Camera   CameraControls
	Zoom     ZoomControl
	Touch    TouchHandler
	Geometry FitReporter

	// Detections serves GET /detections.
	Detections store.Store

	// Stats, Breakers and Controllers feed GET /state.
	Stats       func() pipeline.GateStats
	Breakers    func() []resilience.BreakerStatus
	Controllers func() []uuid.UUID

	Health         *health.Handler
	MetricsHandler http.Handler
	Metrics        *observe.Metrics
	Logger         *slog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	cfg Config
	log *slog.Logger
	mux *http.ServeMux
}

// New validates cfg and registers every route.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Owner == nil {
		errs = append(errs, errors.New("owner is required"))
	}
	if cfg.Controller == nil {
		errs = append(errs, errors.New("controller is required"))
	}
	if cfg.Canvas == nil {
		errs = append(errs, errors.New("canvas is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("server: %w", errors.Join(errs...))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}

	s := &Server{cfg: cfg, log: cfg.Logger, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.cfg.Health.Register(s.mux)
	if s.cfg.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}

	s.mux.HandleFunc("POST /lifecycle/{action}", s.handleLifecycle)
	s.mux.HandleFunc("POST /permission", s.handlePermission)
	s.mux.HandleFunc("POST /frames", s.handleFrame)
	s.mux.HandleFunc("POST /touch", s.handleTouch)
	s.mux.HandleFunc("PUT /zoom", s.handleZoom)
	s.mux.HandleFunc("PUT /torch", s.handleTorch)
	s.mux.HandleFunc("PUT /focus", s.handleFocus)
	s.mux.HandleFunc("GET /controls", s.handleControls)
	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("GET /overlay", s.handleOverlay)
	s.mux.HandleFunc("GET /ws/overlay", s.handleOverlayStream)
	s.mux.HandleFunc("GET /detections", s.handleDetections)
}

// Handler returns the routed handler wrapped in the observe middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.cfg.Metrics)(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. A nil tlsCfg serves plain HTTP. It returns nil after a clean
// shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsCfg *TLSFiles) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, tlsCfg)
}

// TLSFiles names the certificate and key served over HTTPS.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, tlsCfg *TLSFiles) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	if tlsCfg != nil {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
		if tlsCfg != nil {
			errCh <- srv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
