// Package types defines the shared types used across the vision pipeline packages.
//
// These types form the lingua franca between capture devices, detector providers,
// the detection gate, the geometry layer and the overlay. They are intentionally
// minimal: each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMetadata is returned by [FrameMetadata.Validate] for frames whose
// dimensions or rotation are out of range.
var ErrInvalidMetadata = errors.New("invalid frame metadata")

// Rotation is the clockwise rotation, in degrees, that must be applied to a raw
// frame to display it upright. Only the four right angles are valid.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// IsValid reports whether r is one of the four supported right angles.
func (r Rotation) IsValid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// Facing identifies which side of the device a camera points to.
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// IsValid reports whether f is a recognised facing.
func (f Facing) IsValid() bool {
	return f == FacingBack || f == FacingFront
}

// Size is an integer width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether either dimension is non-positive.
func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

// Swap returns s with width and height exchanged.
func (s Size) Swap() Size { return Size{Width: s.Height, Height: s.Width} }

// String implements fmt.Stringer ("640x480").
func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Point is a position in floating point pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle in floating point pixel coordinates.
// Left/Top is the minimum corner, Right/Bottom the maximum corner.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns the horizontal extent of r.
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns the vertical extent of r.
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Canon returns r with its corners ordered so that Left<=Right and Top<=Bottom.
// Mirroring transforms can flip a rectangle; Canon restores the invariant.
func (r Rect) Canon() Rect {
	if r.Left > r.Right {
		r.Left, r.Right = r.Right, r.Left
	}
	if r.Top > r.Bottom {
		r.Top, r.Bottom = r.Bottom, r.Top
	}
	return r
}

// FrameMetadata describes exactly one raw frame buffer. It is immutable once
// created by the capture device.
type FrameMetadata struct {
	// Width of the raw frame in pixels. Must be > 0.
	Width int `json:"width"`

	// Height of the raw frame in pixels. Must be > 0.
	Height int `json:"height"`

	// Rotation needed to display the frame upright.
	Rotation Rotation `json:"rotation"`
}

// Size returns the raw frame dimensions.
func (m FrameMetadata) Size() Size { return Size{Width: m.Width, Height: m.Height} }

// Validate returns [ErrInvalidMetadata] if the dimensions are not positive or
// the rotation is not a right angle.
func (m FrameMetadata) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidMetadata, m.Width, m.Height)
	}
	if !m.Rotation.IsValid() {
		return fmt.Errorf("%w: rotation %d", ErrInvalidMetadata, m.Rotation)
	}
	return nil
}

// Frame is one captured image plus its metadata. Data is the encoded or raw
// image buffer; its format is agreed between the capture device and the
// detector (JPEG for the bundled providers).
type Frame struct {
	Data     []byte
	Metadata FrameMetadata

	// CapturedAt is when the capture device produced the frame.
	CapturedAt time.Time
}

// Detection is a single recognised object or text element, positioned in
// detector (frame) coordinates.
type Detection struct {
	// Label is the class name or a short description (e.g., "person", "text").
	Label string `json:"label"`

	// Text holds recognised text content for text detectors. Empty otherwise.
	Text string `json:"text,omitempty"`

	// Confidence is the detector's score in [0, 1]. Zero if not reported.
	Confidence float64 `json:"confidence"`

	// Box is the bounding box in raw, unrotated frame coordinates.
	Box Rect `json:"box"`
}

// DetectionResult is the result of running a detector over one frame.
type DetectionResult struct {
	// Detections lists everything found in the frame. May be empty.
	Detections []Detection `json:"detections"`

	// Frame is the metadata of the frame the detections refer to.
	Frame FrameMetadata `json:"frame"`

	// Provider names the backend that produced the result.
	Provider string `json:"provider,omitempty"`
}
