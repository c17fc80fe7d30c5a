// Package overlay defines the drawable primitives derived from detection
// results and the sink they are applied to.
//
// Rendering is out of scope: a primitive is only a kind, a rectangle in display
// coordinates and an optional label. Whatever paints the overlay (a GUI view, a
// browser canvas fed by the /ws/overlay stream) consumes them as data.
//
// Primitives are always applied as a full replacement: the sink is cleared and
// the new set added. Use [Apply] rather than calling Clear/Add by hand so sinks
// that support atomic replacement get it.
package overlay

import "github.com/makeabledk/firebasevision/pkg/types"

// Kind identifies how a primitive should be drawn.
type Kind string

const (
	// KindBox is a stroked bounding rectangle.
	KindBox Kind = "box"

	// KindText is a bounding rectangle with a text label drawn at its
	// bottom-left corner.
	KindText Kind = "text"
)

// Primitive is one drawable element.
type Primitive struct {
	Kind  Kind       `json:"kind"`
	Rect  types.Rect `json:"rect"`
	Label string     `json:"label,omitempty"`
}

// Overlay is the sink for primitives. Implementations must be safe for
// concurrent use.
type Overlay interface {
	// Clear removes every primitive.
	Clear()

	// Add appends one primitive.
	Add(p Primitive)
}

// Replacer is implemented by overlays that can swap their whole content in one
// atomic step, so observers never see the cleared-but-not-yet-refilled state.
type Replacer interface {
	Replace(ps []Primitive)
}

// Apply replaces the content of o with ps: atomically when o implements
// [Replacer], otherwise by Clear followed by one Add per primitive.
func Apply(o Overlay, ps []Primitive) {
	if r, ok := o.(Replacer); ok {
		r.Replace(ps)
		return
	}
	o.Clear()
	for _, p := range ps {
		o.Add(p)
	}
}
