package geometry

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrZoomUnsupported is returned by [Zoom.Set] and [Zoom.Step] when the
// attached device cannot zoom or no device is attached.
var ErrZoomUnsupported = errors.New("geometry: zoom not supported")

// Zoomer is the device side of zoom: it applies a discrete level in [0, max].
type Zoomer interface {
	SetZoom(level int) error
}

// ZoomListener receives the zoom level as a percentage of the maximum after a
// gesture changed it.
type ZoomListener interface {
	OnZoom(percent int)
}

// ZoomListenerFunc adapts a plain function to [ZoomListener].
type ZoomListenerFunc func(percent int)

// OnZoom implements [ZoomListener].
func (f ZoomListenerFunc) OnZoom(percent int) { f(percent) }

// ZoomState is a consistent snapshot of a [Zoom].
type ZoomState struct {
	Level     int  `json:"level"`
	Max       int  `json:"max"`
	Supported bool `json:"supported"`
}

// Percent returns Level as a rounded percentage of Max, in [0, 100].
func (s ZoomState) Percent() int {
	if s.Max <= 0 {
		return 0
	}
	return int(math.Round(float64(s.Level) / float64(s.Max) * 100))
}

// Zoom is the bounded zoom level of the active capture device. Every mutation
// clamps to [0, max] and is applied to the device before the new level is
// stored, so the stored level always matches what the device accepted.
//
// All methods are safe for concurrent use.
type Zoom struct {
	mu        sync.Mutex
	device    Zoomer
	level     int
	max       int
	supported bool
}

// NewZoom returns a Zoom with no device attached. It reports unsupported until
// [Zoom.Attach] is called.
func NewZoom() *Zoom {
	return &Zoom{}
}

// Attach binds the zoom state to a freshly started device. The level resets
// to zero, matching a device that was just opened.
func (z *Zoom) Attach(device Zoomer, maxLevel int, supported bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.device = device
	z.max = max(maxLevel, 0)
	z.level = 0
	z.supported = supported && device != nil && z.max > 0
}

// Detach drops the device. The zoom reports unsupported afterwards.
func (z *Zoom) Detach() {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.device = nil
	z.supported = false
}

// State returns the current level, maximum and support flag.
func (z *Zoom) State() ZoomState {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.stateLocked()
}

// Supported reports whether zoom mutations are currently accepted.
func (z *Zoom) Supported() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.supported
}

// Step moves the level by delta, saturating at the bounds. changed is false
// when the level was already at the bound in that direction.
func (z *Zoom) Step(delta int) (state ZoomState, changed bool, err error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.supported {
		return z.stateLocked(), false, ErrZoomUnsupported
	}
	return z.applyLocked(z.level + delta)
}

// Set moves the level to an explicit value, clamped to [0, max].
func (z *Zoom) Set(level int) (ZoomState, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.supported {
		return z.stateLocked(), ErrZoomUnsupported
	}
	s, _, err := z.applyLocked(level)
	return s, err
}

func (z *Zoom) applyLocked(level int) (ZoomState, bool, error) {
	level = min(max(level, 0), z.max)
	if level == z.level {
		return z.stateLocked(), false, nil
	}
	if err := z.device.SetZoom(level); err != nil {
		return z.stateLocked(), false, fmt.Errorf("geometry: set zoom %d: %w", level, err)
	}
	z.level = level
	return z.stateLocked(), true, nil
}

func (z *Zoom) stateLocked() ZoomState {
	return ZoomState{Level: z.level, Max: z.max, Supported: z.supported}
}
