// Package gocv provides a capture device backed by a local camera through
// OpenCV. Frames are JPEG encoded before they are handed to the sink, which is
// the format the bundled detector providers expect.
//
// Building this package requires OpenCV and cgo.
package gocv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cv "gocv.io/x/gocv"

	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Compile-time interface assertion.
var _ capture.Device = (*Device)(nil)

const (
	defaultFPS     = 15
	defaultQuality = 85
)

// Option is a functional option for Device.
type Option func(*Device)

// WithSize requests a capture resolution. The driver may pick a different
// one; PreviewSize reports what was actually negotiated.
func WithSize(s types.Size) Option {
	return func(d *Device) {
		d.want = s
	}
}

// WithFPS caps the rate at which frames are read and pushed.
func WithFPS(fps int) Option {
	return func(d *Device) {
		if fps > 0 {
			d.fps = fps
		}
	}
}

// WithFacing sets the reported camera facing. Webcams pointing at the user
// should be marked front so overlays are mirrored.
func WithFacing(f types.Facing) Option {
	return func(d *Device) {
		d.facing = f
	}
}

// WithMaxZoom sets the highest zoom level passed to the driver. Zero disables
// zoom.
func WithMaxZoom(n int) Option {
	return func(d *Device) {
		d.maxZoom = n
	}
}

// WithRotation sets the rotation reported with every frame. Frames are not
// rotated; detector boxes are turned upright when mapped to the display.
func WithRotation(r types.Rotation) Option {
	return func(d *Device) {
		d.rotation = r
	}
}

// Device implements capture.Device for an OpenCV video capture source.
type Device struct {
	source   any
	want     types.Size
	fps      int
	facing   types.Facing
	maxZoom  int
	rotation types.Rotation

	mu       sync.Mutex
	vc       *cv.VideoCapture
	size     types.Size
	cancel   context.CancelFunc
	done     chan struct{}
	released bool
}

// New returns a Device for source, which is either a camera index or a stream
// URL accepted by OpenCV. The device is opened on the first Start.
func New(source any, opts ...Option) *Device {
	d := &Device{
		source: source,
		fps:    defaultFPS,
		facing: types.FacingBack,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start opens the camera if necessary and starts the read loop.
func (d *Device) Start(_ context.Context, sink capture.FrameSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return capture.ErrReleased
	}
	if d.cancel != nil {
		return nil
	}
	if d.vc == nil {
		vc, err := cv.OpenVideoCapture(d.source)
		if err != nil {
			return fmt.Errorf("gocv: open %v: %w", d.source, err)
		}
		if !d.want.IsZero() {
			vc.Set(cv.VideoCaptureFrameWidth, float64(d.want.Width))
			vc.Set(cv.VideoCaptureFrameHeight, float64(d.want.Height))
		}
		vc.Set(cv.VideoCaptureFPS, float64(d.fps))
		vc.Set(cv.VideoCaptureBufferSize, 1)
		d.vc = vc
		d.size = types.Size{
			Width:  int(vc.Get(cv.VideoCaptureFrameWidth)),
			Height: int(vc.Get(cv.VideoCaptureFrameHeight)),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.readLoop(ctx, d.vc, sink, d.done)
	return nil
}

// readLoop reads, encodes and pushes frames until ctx is cancelled.
func (d *Device) readLoop(ctx context.Context, vc *cv.VideoCapture, sink capture.FrameSink, done chan struct{}) {
	defer close(done)

	img := cv.NewMat()
	defer img.Close()

	ticker := time.NewTicker(time.Second / time.Duration(d.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ok := vc.Read(&img); !ok || img.Empty() {
			continue
		}
		buf, err := cv.IMEncodeWithParams(cv.JPEGFileExt, img, []int{cv.IMWriteJpegQuality, defaultQuality})
		if err != nil {
			slog.Warn("gocv: encode frame", "err", err)
			continue
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		sink.Submit(types.Frame{
			Data: data,
			Metadata: types.FrameMetadata{
				Width:    img.Cols(),
				Height:   img.Rows(),
				Rotation: d.rotation,
			},
			CapturedAt: time.Now(),
		})
	}
}

// Stop ends the read loop and waits for it. The camera stays open.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	return nil
}

func (d *Device) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
}

// Release stops streaming and closes the camera.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	d.stopLocked()
	if d.vc == nil {
		return nil
	}
	err := d.vc.Close()
	d.vc = nil
	if err != nil {
		return fmt.Errorf("gocv: close: %w", err)
	}
	return nil
}

// PreviewSize returns the negotiated frame size.
func (d *Device) PreviewSize() types.Size {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Facing returns the configured facing.
func (d *Device) Facing() types.Facing { return d.facing }

// Zoom reports zoom support as configured.
func (d *Device) Zoom() capture.ZoomInfo {
	return capture.ZoomInfo{Supported: d.maxZoom > 0, Max: d.maxZoom}
}

// SetZoom passes level to the driver's zoom property.
func (d *Device) SetZoom(level int) error {
	if d.maxZoom <= 0 {
		return capture.ErrUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vc == nil {
		return fmt.Errorf("gocv: set zoom: device not open")
	}
	d.vc.Set(cv.VideoCaptureZoom, float64(level))
	return nil
}

// SetTorch always fails: UVC webcams expose no torch control.
func (d *Device) SetTorch(bool) error {
	return capture.ErrUnsupported
}

// SetFocusMode maps auto and continuous to the driver's autofocus and fixed
// and infinity to manual focus.
func (d *Device) SetFocusMode(mode capture.FocusMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vc == nil {
		return fmt.Errorf("gocv: set focus: device not open")
	}
	switch mode {
	case capture.FocusAuto, capture.FocusContinuous:
		d.vc.Set(cv.VideoCaptureAutoFocus, 1)
	case capture.FocusFixed:
		d.vc.Set(cv.VideoCaptureAutoFocus, 0)
	case capture.FocusInfinity:
		d.vc.Set(cv.VideoCaptureAutoFocus, 0)
		d.vc.Set(cv.VideoCaptureFocus, 0)
	default:
		return fmt.Errorf("gocv: focus mode %q: %w", mode, capture.ErrUnsupported)
	}
	return nil
}
