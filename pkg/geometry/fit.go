// Package geometry maps detector output onto the display surface and turns
// two-finger gestures into discrete zoom steps.
//
// Three pieces live here:
//
//   - [ComputeFit] sizes the preview so it fills the display completely
//     (fill and crop, never letterbox).
//   - [Transform] converts detector frame coordinates to display coordinates.
//     [Geometry] caches one and rebuilds it whenever the frame bounds change.
//   - [Zoom] holds the bounded zoom level and [Pinch] drives it from touch
//     events.
package geometry

import (
	"fmt"

	"github.com/makeabledk/firebasevision/pkg/types"
)

// Fit is the result of fitting a capture stream onto a display surface.
type Fit struct {
	// Native is the capture preview size as reported by the device.
	Native types.Size `json:"native"`

	// Portrait is true when the display is in portrait orientation. The native
	// size is then rotated by 90 degrees before scaling.
	Portrait bool `json:"portrait"`

	// Display is the measured size of the display surface.
	Display types.Size `json:"display"`

	// Base is Native after the orientation swap.
	Base types.Size `json:"base"`

	// Scale is the factor applied to Base. It is the larger of the two fill
	// ratios so the display is always fully covered.
	Scale float64 `json:"scale"`

	// Child is the scaled preview size. At least one dimension equals the
	// display; the other overflows by twice the crop offset.
	Child types.Size `json:"child"`

	// CropX and CropY are the amounts cut from each side of the overflowing
	// axis. At most one of them is non-zero.
	CropX int `json:"crop_x"`
	CropY int `json:"crop_y"`
}

// ComputeFit fills display with the native capture size, cropping the axis
// that overflows. In portrait the native width and height are swapped first.
func ComputeFit(native types.Size, portrait bool, display types.Size) (Fit, error) {
	if native.IsZero() {
		return Fit{}, fmt.Errorf("geometry: compute fit: invalid native size %s", native)
	}
	if display.IsZero() {
		return Fit{}, fmt.Errorf("geometry: compute fit: invalid display size %s", display)
	}

	base := native
	if portrait {
		base = native.Swap()
	}

	f := Fit{
		Native:   native,
		Portrait: portrait,
		Display:  display,
		Base:     base,
	}

	widthRatio := float64(display.Width) / float64(base.Width)
	heightRatio := float64(display.Height) / float64(base.Height)

	if widthRatio > heightRatio {
		f.Scale = widthRatio
		f.Child = types.Size{Width: display.Width, Height: int(float64(base.Height) * widthRatio)}
		f.CropY = (f.Child.Height - display.Height) / 2
	} else {
		f.Scale = heightRatio
		f.Child = types.Size{Width: int(float64(base.Width) * heightRatio), Height: display.Height}
		f.CropX = (f.Child.Width - display.Width) / 2
	}
	return f, nil
}

// Origin returns the top-left corner of the scaled preview relative to the
// display. Both coordinates are zero or negative.
func (f Fit) Origin() types.Point {
	return types.Point{X: float64(-f.CropX), Y: float64(-f.CropY)}
}
