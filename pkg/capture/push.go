package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/makeabledk/firebasevision/pkg/types"
)

// Compile-time interface assertion.
var _ Device = (*Push)(nil)

// PushConfig describes a [Push] device.
type PushConfig struct {
	// PreviewSize is the frame size producers are expected to send.
	PreviewSize types.Size

	// Facing of the remote camera.
	Facing types.Facing

	// MaxZoom is the highest zoom level the remote producer accepts. Zero
	// disables zoom.
	MaxZoom int

	// Torch reports whether the remote producer has a torch.
	Torch bool
}

// Push is a device whose frames are produced elsewhere and handed in through
// [Push.Offer], for example by an HTTP handler. Offered frames only reach the
// sink while the device is started, which keeps the lifecycle controller in
// charge of when frames flow.
//
// Control changes (zoom, torch, focus) are recorded and exposed through
// [Push.Controls]. The HTTP server serves them on GET /controls and in every
// POST /frames response so the remote producer can apply them.
type Push struct {
	cfg PushConfig

	mu       sync.Mutex
	sink     FrameSink
	released bool
	controls Controls
}

// Controls is the last requested state of the remote camera controls.
type Controls struct {
	Zoom  int       `json:"zoom"`
	Torch bool      `json:"torch"`
	Focus FocusMode `json:"focus"`
}

// NewPush returns a Push device.
func NewPush(cfg PushConfig) *Push {
	if cfg.Facing == "" {
		cfg.Facing = types.FacingBack
	}
	return &Push{cfg: cfg, controls: Controls{Focus: FocusContinuous}}
}

// Start begins forwarding offered frames to sink.
func (p *Push) Start(_ context.Context, sink FrameSink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrReleased
	}
	if sink == nil {
		return fmt.Errorf("capture: push: nil sink")
	}
	p.sink = sink
	return nil
}

// Stop stops forwarding. Offered frames are dropped until the next Start.
func (p *Push) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
	return nil
}

// Release stops forwarding permanently.
func (p *Push) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
	p.released = true
	return nil
}

// Streaming reports whether offered frames currently reach a sink.
func (p *Push) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil
}

// Offer hands one frame to the device. It returns false when the device is not
// streaming or the sink dropped the frame.
func (p *Push) Offer(frame types.Frame) bool {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return false
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}
	return sink.Submit(frame)
}

// PreviewSize implements [Device].
func (p *Push) PreviewSize() types.Size { return p.cfg.PreviewSize }

// Facing implements [Device].
func (p *Push) Facing() types.Facing { return p.cfg.Facing }

// Zoom implements [Device].
func (p *Push) Zoom() ZoomInfo {
	return ZoomInfo{Supported: p.cfg.MaxZoom > 0, Max: p.cfg.MaxZoom}
}

// SetZoom records the requested level.
func (p *Push) SetZoom(level int) error {
	if p.cfg.MaxZoom <= 0 {
		return ErrUnsupported
	}
	if level < 0 || level > p.cfg.MaxZoom {
		return fmt.Errorf("capture: push: zoom level %d out of range [0,%d]", level, p.cfg.MaxZoom)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls.Zoom = level
	return nil
}

// SetTorch records the torch state.
func (p *Push) SetTorch(on bool) error {
	if !p.cfg.Torch {
		return ErrUnsupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls.Torch = on
	return nil
}

// SetFocusMode records the focus mode.
func (p *Push) SetFocusMode(mode FocusMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("capture: push: %w: focus mode %q", ErrUnsupported, mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls.Focus = mode
	return nil
}

// Controls returns the last requested control state.
func (p *Push) Controls() Controls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.controls
}
