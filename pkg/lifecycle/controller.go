package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/geometry"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Pipeline is the detection pipeline the controller feeds. pipeline.Gate
// implements it.
type Pipeline interface {
	capture.FrameSink

	// Stop suppresses routing of outcomes that arrive afterwards.
	Stop()

	// Close stops the pipeline and frees the detector.
	Close() error
}

// CameraInfoSetter receives the preview size and facing of a started device.
// geometry.Geometry implements it.
type CameraInfoSetter interface {
	SetCameraInfo(preview types.Size, facing types.Facing)
}

// ZoomBinder binds zoom state to a started device. geometry.Zoom implements
// it.
type ZoomBinder interface {
	Attach(device geometry.Zoomer, maxLevel int, supported bool)
	Detach()
}

// Clearer empties the overlay. overlay.Overlay implements it.
type Clearer interface {
	Clear()
}

// Metrics receives lifecycle telemetry.
type Metrics interface {
	RecordTransition(ctx context.Context, from, to string)
	RecordActiveControllers(ctx context.Context, delta int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordTransition(context.Context, string, string) {}
func (nopMetrics) RecordActiveControllers(context.Context, int64)   {}

// Config holds the collaborators of a [Controller]. Owner, Permission, Device
// and Pipeline are required.
type Config struct {
	Owner      Owner
	Permission Permission
	Device     capture.Device
	Pipeline   Pipeline

	// Registry, if set, tracks the controller until it is destroyed.
	Registry *Registry

	// Display, Zoom and Overlay are updated on every successful start.
	Display CameraInfoSetter
	Zoom    ZoomBinder
	Overlay Clearer

	// OnReady runs after every successful start, once the overlay has been
	// prepared for the new stream.
	OnReady func()

	Metrics Metrics
	Logger  *slog.Logger
}

// Controller is the lifecycle-scoped owner of one capture device and one
// detection pipeline. It exclusively owns the device handle.
//
// All methods are safe for concurrent use.
type Controller struct {
	id  uuid.UUID
	cfg Config
	log *slog.Logger

	// ctx is cancelled on Destroy and aborts a pending permission request.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	starting bool
	// gen invalidates in-progress starts when the controller is paused or
	// destroyed while waiting for permission or for the device.
	gen     uint64
	lastErr error

	releaseOnce sync.Once
	releaseErr  error
	finishOnce  sync.Once
}

// New validates cfg and returns a controller in the Created state. Call
// [Controller.Attach] to start following the owner.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Owner == nil {
		errs = append(errs, errors.New("owner is required"))
	}
	if cfg.Permission == nil {
		errs = append(errs, errors.New("permission is required"))
	}
	if cfg.Device == nil {
		errs = append(errs, errors.New("device is required"))
	}
	if cfg.Pipeline == nil {
		errs = append(errs, errors.New("pipeline is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("lifecycle: new controller: %w", errors.Join(errs...))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		id:     id,
		cfg:    cfg,
		log:    cfg.Logger.With("controller", id.String()),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ID returns the controller's unique identity.
func (c *Controller) ID() uuid.UUID { return c.id }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that caused the last transition into Paused or
// Destroyed, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attach registers the controller with the registry and subscribes it to the
// owner. If the owner is already active the start transition runs right away.
func (c *Controller) Attach() error {
	if c.State() == StateDestroyed {
		return ErrDestroyed
	}
	if c.cfg.Registry != nil {
		c.cfg.Registry.Register(c)
	}
	c.cfg.Owner.AddObserver(c)

	switch c.cfg.Owner.CurrentState() {
	case OwnerActive:
		c.Start()
	case OwnerDestroyed:
		return c.Destroy()
	}
	return nil
}

// OnOwnerEvent implements [Observer].
func (c *Controller) OnOwnerEvent(ev Event) {
	switch ev {
	case EventActivated:
		c.Start()
	case EventDeactivated:
		c.Pause()
	case EventDestroyed:
		if err := c.Destroy(); err != nil {
			c.log.Warn("lifecycle: destroy failed", "err", err)
		}
	}
}

// Start runs the start transition: permission check, then device open. It is
// a no-op while a start is already in progress, while started, and after
// destroy. When permission must be requested, Start returns immediately and
// the rest of the transition completes asynchronously.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateCreated, StatePaused:
	default:
		c.mu.Unlock()
		return
	}
	// The guard is taken before the permission check so a concurrent Start
	// cannot launch a second request or a second open.
	c.starting = true
	c.gen++
	gen := c.gen
	c.setStateLocked(StatePermissionPending)
	c.mu.Unlock()

	if c.cfg.Permission.Granted(c.ctx) {
		c.open(gen)
		return
	}
	go c.request(gen)
}

// request performs the asynchronous permission request for start generation
// gen.
func (c *Controller) request(gen uint64) {
	granted, err := c.cfg.Permission.Request(c.ctx)

	c.mu.Lock()
	if c.gen != gen || c.state != StatePermissionPending {
		c.mu.Unlock()
		c.log.Debug("lifecycle: permission answer ignored", "granted", granted, "state", c.State())
		return
	}
	switch {
	case err != nil:
		c.starting = false
		c.lastErr = fmt.Errorf("lifecycle: permission request: %w", err)
		c.setStateLocked(StatePaused)
		c.mu.Unlock()
		c.log.Warn("lifecycle: permission request failed", "err", err)
		return
	case !granted:
		c.lastErr = ErrPermissionDenied
		c.mu.Unlock()
		c.log.Warn("lifecycle: capture permission denied")
		if err := c.destroy(ErrPermissionDenied); err != nil {
			c.log.Warn("lifecycle: destroy after denial failed", "err", err)
		}
		c.finishOnce.Do(c.cfg.Owner.Finish)
		return
	}
	c.mu.Unlock()
	c.open(gen)
}

// open starts the device for start generation gen.
func (c *Controller) open(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StatePermissionPending {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	err := c.cfg.Device.Start(c.ctx, c.cfg.Pipeline)

	c.mu.Lock()
	if c.gen != gen || c.state != StateStarting {
		// Paused or destroyed while the device was opening. Unless a newer
		// start already owns the device, stop it before releasing c.mu so no
		// later start can pick up a device this call is about to stop.
		if err == nil && (c.state == StatePaused || c.state == StatePermissionPending) {
			c.stopDeviceLocked()
		}
		c.mu.Unlock()
		return
	}
	c.starting = false
	if err != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrDeviceOpen, err)
		c.setStateLocked(StatePaused)
		c.mu.Unlock()
		c.log.Error("lifecycle: could not start capture device", "err", err)
		return
	}
	c.lastErr = nil
	c.setStateLocked(StateStarted)
	c.mu.Unlock()

	c.prepareStream()
}

// prepareStream hands the started device's parameters to the geometry and zoom
// state, clears the overlay and reports readiness.
func (c *Controller) prepareStream() {
	dev := c.cfg.Device
	if c.cfg.Display != nil {
		c.cfg.Display.SetCameraInfo(dev.PreviewSize(), dev.Facing())
	}
	if c.cfg.Zoom != nil {
		info := dev.Zoom()
		c.cfg.Zoom.Attach(dev, info.Max, info.Supported)
	}
	if c.cfg.Overlay != nil {
		c.cfg.Overlay.Clear()
	}
	c.log.Info("lifecycle: capture started",
		"preview", dev.PreviewSize().String(), "facing", string(dev.Facing()))
	if c.cfg.OnReady != nil {
		c.cfg.OnReady()
	}
}

// Pause stops capture while keeping the device open. A start waiting for
// permission or for the device is abandoned; the next activation re-checks
// permission.
func (c *Controller) Pause() {
	c.mu.Lock()
	prev := c.state
	switch prev {
	case StateStarted, StatePermissionPending, StateStarting:
	default:
		c.mu.Unlock()
		return
	}
	c.starting = false
	c.gen++
	c.setStateLocked(StatePaused)
	if prev == StateStarted {
		c.stopDeviceLocked()
	}
	c.mu.Unlock()

	if c.cfg.Zoom != nil {
		c.cfg.Zoom.Detach()
	}
}

// Destroy tears the controller down: the pipeline stops routing, the device is
// released, the controller leaves the registry and stops observing the owner.
// Destroy is idempotent; only the first call does any work.
func (c *Controller) Destroy() error {
	return c.destroy(nil)
}

func (c *Controller) destroy(cause error) error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return nil
	}
	c.starting = false
	c.gen++
	if cause != nil {
		c.lastErr = cause
	}
	c.setStateLocked(StateDestroyed)
	c.mu.Unlock()

	c.cancel()
	c.cfg.Pipeline.Stop()

	var errs []error
	if err := c.Release(); err != nil {
		errs = append(errs, err)
	}
	if c.cfg.Zoom != nil {
		c.cfg.Zoom.Detach()
	}
	if err := c.cfg.Pipeline.Close(); err != nil {
		errs = append(errs, err)
	}
	c.cfg.Owner.RemoveObserver(c)
	if c.cfg.Registry != nil {
		c.cfg.Registry.Unregister(c.id)
	}
	c.log.Info("lifecycle: controller destroyed")
	return errors.Join(errs...)
}

// Release frees the capture device. Only the first call reaches the device;
// later calls return the first result.
func (c *Controller) Release() error {
	c.releaseOnce.Do(func() {
		if err := c.cfg.Device.Release(); err != nil {
			c.releaseErr = fmt.Errorf("lifecycle: release device: %w", err)
		}
	})
	return c.releaseErr
}

// stopDeviceLocked stops the device. It runs under c.mu so the stop cannot
// interleave with a newer start.
func (c *Controller) stopDeviceLocked() {
	if err := c.cfg.Device.Stop(); err != nil {
		c.log.Warn("lifecycle: stop device failed", "err", err)
	}
}

func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.cfg.Metrics.RecordTransition(c.ctx, from.String(), to.String())
	c.log.Debug("lifecycle: transition", "from", from.String(), "to", to.String())
}
