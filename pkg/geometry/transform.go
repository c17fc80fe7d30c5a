package geometry

import (
	"github.com/makeabledk/firebasevision/pkg/overlay"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Transform maps detector frame coordinates into display coordinates. The
// zero value is not usable; build one with [NewTransform].
//
// Detectors report boxes in raw frame space. Rect first turns a box upright
// by Rotation, then scales it from Frame to Display.
type Transform struct {
	// Frame is the upright detector frame size.
	Frame types.Size `json:"frame"`

	// Rotation turns raw frame coordinates upright before scaling.
	Rotation types.Rotation `json:"rotation"`

	// Display is the target surface size.
	Display types.Size `json:"display"`

	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`

	// Mirror flips the X axis, used for front-facing cameras.
	Mirror bool `json:"mirror"`
}

// NewTransform builds a transform from upright frame bounds to display bounds.
// Set Rotation on the result when boxes arrive in raw frame space.
func NewTransform(frame, display types.Size, mirror bool) Transform {
	t := Transform{Frame: frame, Display: display, Mirror: mirror}
	if !frame.IsZero() {
		t.ScaleX = float64(display.Width) / float64(frame.Width)
		t.ScaleY = float64(display.Height) / float64(frame.Height)
	}
	return t
}

// UprightBounds returns the size of a raw frame once rotated upright.
func UprightBounds(raw types.Size, r types.Rotation) types.Size {
	if r == types.Rotation90 || r == types.Rotation270 {
		return raw.Swap()
	}
	return raw
}

// OrientBounds returns the frame bounds as seen on a display of the given
// orientation: (min, max) in portrait, (max, min) in landscape.
func OrientBounds(s types.Size, portrait bool) types.Size {
	lo, hi := min(s.Width, s.Height), max(s.Width, s.Height)
	if portrait {
		return types.Size{Width: lo, Height: hi}
	}
	return types.Size{Width: hi, Height: lo}
}

// X maps a horizontal frame coordinate.
func (t Transform) X(x float64) float64 {
	if t.Mirror {
		return float64(t.Display.Width) - x*t.ScaleX
	}
	return x * t.ScaleX
}

// Y maps a vertical frame coordinate.
func (t Transform) Y(y float64) float64 {
	return y * t.ScaleY
}

// Upright rotates a raw frame point clockwise by t.Rotation into the upright
// frame of size t.Frame.
func (t Transform) Upright(p types.Point) types.Point {
	w, h := float64(t.Frame.Width), float64(t.Frame.Height)
	switch t.Rotation {
	case types.Rotation90:
		return types.Point{X: w - p.Y, Y: p.X}
	case types.Rotation180:
		return types.Point{X: w - p.X, Y: h - p.Y}
	case types.Rotation270:
		return types.Point{X: p.Y, Y: h - p.X}
	}
	return p
}

// Rect maps every corner of a raw frame box. The result is canonical, so a
// rotated or mirrored box still has Left <= Right.
func (t Transform) Rect(r types.Rect) types.Rect {
	a := t.Upright(types.Point{X: r.Left, Y: r.Top})
	b := t.Upright(types.Point{X: r.Right, Y: r.Bottom})
	return types.Rect{
		Left:   t.X(a.X),
		Top:    t.Y(a.Y),
		Right:  t.X(b.X),
		Bottom: t.Y(b.Y),
	}.Canon()
}

// Primitives returns a copy of ps with every rectangle mapped.
func (t Transform) Primitives(ps []overlay.Primitive) []overlay.Primitive {
	out := make([]overlay.Primitive, len(ps))
	for i, p := range ps {
		p.Rect = t.Rect(p.Rect)
		out[i] = p
	}
	return out
}
