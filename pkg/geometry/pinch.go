package geometry

import (
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/makeabledk/firebasevision/pkg/types"
)

// Action is the kind of a touch event.
type Action string

const (
	ActionDown        Action = "down"
	ActionPointerDown Action = "pointer_down"
	ActionMove        Action = "move"
	ActionPointerUp   Action = "pointer_up"
	ActionUp          Action = "up"
	ActionCancel      Action = "cancel"
)

// TouchEvent is one touch sample from the display surface. Pointers lists
// every active contact; only the first two matter for pinch.
type TouchEvent struct {
	Action   Action        `json:"action"`
	Pointers []types.Point `json:"pointers"`
}

// Pinch turns two-finger gestures into zoom steps. A second finger going down
// records the initial spacing; each move with two or more contacts compares
// the new spacing with the previous one and steps the zoom by one.
type Pinch struct {
	zoom     *Zoom
	listener ZoomListener

	mu         sync.Mutex
	spacing    float64
	hasSpacing bool
}

// NewPinch returns a Pinch driving zoom. listener may be nil.
func NewPinch(zoom *Zoom, listener ZoomListener) *Pinch {
	return &Pinch{zoom: zoom, listener: listener}
}

// HandleTouch processes one touch event. Events with fewer than two contacts
// are ignored, as are moves while the device reports zoom unsupported.
func (p *Pinch) HandleTouch(ev TouchEvent) {
	if len(ev.Pointers) < 2 {
		return
	}
	spacing := fingerSpacing(ev.Pointers[0], ev.Pointers[1])

	switch ev.Action {
	case ActionPointerDown:
		p.mu.Lock()
		p.spacing, p.hasSpacing = spacing, true
		p.mu.Unlock()

	case ActionMove:
		if !p.zoom.Supported() {
			return
		}
		p.mu.Lock()
		prev, had := p.spacing, p.hasSpacing
		p.spacing, p.hasSpacing = spacing, true
		p.mu.Unlock()

		if !had {
			return
		}
		var delta int
		switch {
		case spacing > prev:
			delta = 1
		case spacing < prev:
			delta = -1
		default:
			return
		}

		state, changed, err := p.zoom.Step(delta)
		if err != nil {
			if !errors.Is(err, ErrZoomUnsupported) {
				slog.Warn("geometry: pinch zoom failed", "delta", delta, "err", err)
			}
			return
		}
		if changed && p.listener != nil {
			p.listener.OnZoom(state.Percent())
		}
	}
}

func fingerSpacing(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
