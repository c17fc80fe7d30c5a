// Package mock provides a test double for the capture.Device interface.
//
// Device counts every Start, Stop and Release call so lifecycle tests can
// assert that the hardware was opened and released exactly once. Frames are
// injected with Emit, which forwards to the sink passed to the last Start
// while the device is streaming.
package mock

import (
	"context"
	"sync"

	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Device is a mock implementation of capture.Device.
type Device struct {
	mu sync.Mutex

	// Size is returned by PreviewSize.
	Size types.Size

	// FacingValue is returned by Facing. Defaults to back.
	FacingValue types.Facing

	// ZoomValue is returned by Zoom.
	ZoomValue capture.ZoomInfo

	// StartErr, if non-nil, is returned by Start and the device stays closed.
	StartErr error

	// ZoomErr, TorchErr and FocusErr are returned by the matching setters.
	ZoomErr  error
	TorchErr error
	FocusErr error

	// Started is signalled (non-blocking) after every successful Start.
	Started chan struct{}

	// Hold, if non-nil, makes Start block until it is closed or ctx is done,
	// which keeps a controller in the starting state.
	Hold chan struct{}

	// OpenCount counts Start calls that actually opened the device, i.e. the
	// first successful Start and any Start after a Stop.
	OpenCount int

	StartCallCount   int
	StopCallCount    int
	ReleaseCallCount int

	// ZoomLevels records every SetZoom argument.
	ZoomLevels []int

	// Torch and Focus hold the last values set.
	Torch bool
	Focus capture.FocusMode

	sink      capture.FrameSink
	streaming bool
	released  bool
}

// Ensure Device implements capture.Device at compile time.
var _ capture.Device = (*Device)(nil)

// Start records the call and begins forwarding emitted frames to sink.
func (d *Device) Start(ctx context.Context, sink capture.FrameSink) error {
	d.mu.Lock()
	d.StartCallCount++
	hold := d.Hold
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	if d.released {
		return capture.ErrReleased
	}
	if !d.streaming {
		d.OpenCount++
	}
	d.sink = sink
	d.streaming = true
	if d.Started != nil {
		select {
		case d.Started <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stop records the call and stops forwarding.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StopCallCount++
	d.streaming = false
	return nil
}

// Release records the call and stops forwarding permanently.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReleaseCallCount++
	d.streaming = false
	d.released = true
	return nil
}

// Emit forwards frame to the sink if the device is streaming. It reports
// whether the sink accepted it.
func (d *Device) Emit(frame types.Frame) bool {
	d.mu.Lock()
	sink, on := d.sink, d.streaming
	d.mu.Unlock()
	if !on || sink == nil {
		return false
	}
	return sink.Submit(frame)
}

// Streaming reports whether the device is between Start and Stop.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// PreviewSize returns Size.
func (d *Device) PreviewSize() types.Size {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Size
}

// Facing returns FacingValue, defaulting to back.
func (d *Device) Facing() types.Facing {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FacingValue == "" {
		return types.FacingBack
	}
	return d.FacingValue
}

// Zoom returns ZoomValue.
func (d *Device) Zoom() capture.ZoomInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ZoomValue
}

// SetZoom records level and returns ZoomErr.
func (d *Device) SetZoom(level int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ZoomErr != nil {
		return d.ZoomErr
	}
	d.ZoomLevels = append(d.ZoomLevels, level)
	return nil
}

// SetTorch records on and returns TorchErr.
func (d *Device) SetTorch(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.TorchErr != nil {
		return d.TorchErr
	}
	d.Torch = on
	return nil
}

// SetFocusMode records mode and returns FocusErr.
func (d *Device) SetFocusMode(mode capture.FocusMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FocusErr != nil {
		return d.FocusErr
	}
	d.Focus = mode
	return nil
}

// Counts returns the Start, Stop and Release call counts. Thread-safe.
func (d *Device) Counts() (start, stop, release int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.StartCallCount, d.StopCallCount, d.ReleaseCallCount
}

// Opens returns OpenCount. Thread-safe.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.OpenCount
}
