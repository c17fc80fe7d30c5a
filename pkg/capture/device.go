// Package capture defines the capture device abstraction: the FrameSource
// that produces frames only while the lifecycle controller allows it.
//
// A [Device] is owned exclusively by one lifecycle controller. The controller
// calls Start when the owner is live and permission is granted, Stop when the
// owner is deactivated (handles stay open) and Release exactly once when the
// owner is destroyed. While started, the device pushes every captured frame to
// its [FrameSink]; the sink decides whether to keep or drop it.
//
// Implementations:
//   - [Push]  frames arrive from outside the process (the HTTP API)
//   - gocv    local webcam via OpenCV
//   - mock    test double
package capture

import (
	"context"
	"errors"

	"github.com/makeabledk/firebasevision/pkg/types"
)

var (
	// ErrUnsupported is returned by optional controls (torch, focus, zoom) the
	// device does not have.
	ErrUnsupported = errors.New("capture: operation not supported by device")

	// ErrReleased is returned by Start after Release.
	ErrReleased = errors.New("capture: device released")
)

// FrameSink receives frames from a running device. Submit must not block; it
// returns false when the frame was dropped.
type FrameSink interface {
	Submit(frame types.Frame) bool
}

// FrameSinkFunc adapts a plain function to [FrameSink].
type FrameSinkFunc func(frame types.Frame) bool

// Submit implements [FrameSink].
func (f FrameSinkFunc) Submit(frame types.Frame) bool { return f(frame) }

// FocusMode is a camera focus strategy.
type FocusMode string

const (
	FocusAuto       FocusMode = "auto"
	FocusContinuous FocusMode = "continuous"
	FocusFixed      FocusMode = "fixed"
	FocusInfinity   FocusMode = "infinity"
	FocusMacro      FocusMode = "macro"
)

// IsValid reports whether m is a recognised focus mode.
func (m FocusMode) IsValid() bool {
	switch m {
	case FocusAuto, FocusContinuous, FocusFixed, FocusInfinity, FocusMacro:
		return true
	}
	return false
}

// ZoomInfo describes the zoom capability of a started device.
type ZoomInfo struct {
	Supported bool
	Max       int
}

// Device is a capture device.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Start opens the device if needed and begins streaming frames into sink.
	// Calling Start on a streaming device is a no-op. ctx bounds the open only;
	// streaming continues until Stop or Release.
	Start(ctx context.Context, sink FrameSink) error

	// Stop halts streaming but keeps the device open so Start can resume.
	Stop() error

	// Release stops streaming and frees the hardware. The device cannot be
	// started again afterwards.
	Release() error

	// PreviewSize returns the native frame size. Only meaningful after Start.
	PreviewSize() types.Size

	// Facing reports which way the camera points.
	Facing() types.Facing

	// Zoom returns the zoom capability. Only meaningful after Start.
	Zoom() ZoomInfo

	// SetZoom applies a zoom level in [0, Zoom().Max].
	SetZoom(level int) error

	// SetTorch switches the torch. Returns [ErrUnsupported] without one.
	SetTorch(on bool) error

	// SetFocusMode changes the focus strategy. Returns [ErrUnsupported] for
	// modes the device cannot do.
	SetFocusMode(mode FocusMode) error
}
