package geometry

import (
	"sync"

	"github.com/makeabledk/firebasevision/pkg/overlay"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Geometry is the shared preview geometry state. The lifecycle controller sets
// the camera info on every start, the display surface reports its size, and
// the result router asks for the transform matching each routed result.
//
// All methods are safe for concurrent use.
type Geometry struct {
	mu sync.Mutex

	preview  types.Size
	portrait bool
	facing   types.Facing
	display  types.Size

	fit    Fit
	hasFit bool

	// Cached transform, keyed by its upright frame bounds and rotation.
	cached    Transform
	hasCached bool
}

// New returns a Geometry for the given display size.
func New(display types.Size, portrait bool) *Geometry {
	return &Geometry{display: display, portrait: portrait, facing: types.FacingBack}
}

// SetCameraInfo records the capture preview size and facing. It is called
// once the device has started.
func (g *Geometry) SetCameraInfo(preview types.Size, facing types.Facing) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.preview = preview
	g.facing = facing
	g.invalidateLocked()
}

// SetDisplay records a new display size and orientation, for example after a
// rotation.
func (g *Geometry) SetDisplay(display types.Size, portrait bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.display = display
	g.portrait = portrait
	g.invalidateLocked()
}

// Fit returns the current fill-and-crop fit. ok is false until both the
// preview and the display size are known.
func (g *Geometry) Fit() (f Fit, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasFit {
		fit, err := ComputeFit(g.preview, g.portrait, g.display)
		if err != nil {
			return Fit{}, false
		}
		g.fit, g.hasFit = fit, true
	}
	return g.fit, true
}

// TransformFor returns the transform for a result produced from a frame with
// the given metadata. Boxes are taken in raw frame space and turned upright by
// meta.Rotation before scaling, so the upright frame bounds always span the
// display. The transform is rebuilt whenever those bounds or the rotation
// differ from the cached ones, so a result from a reconfigured camera is never
// mapped with stale scale factors.
//
// When meta is invalid the camera preview size is used instead, oriented to
// the display, and boxes are assumed to be upright already.
func (g *Geometry) TransformFor(meta types.FrameMetadata) Transform {
	g.mu.Lock()
	defer g.mu.Unlock()

	bounds, rot := OrientBounds(g.preview, g.portrait), types.Rotation0
	if meta.Validate() == nil {
		bounds, rot = UprightBounds(meta.Size(), meta.Rotation), meta.Rotation
	}
	if g.hasCached && g.cached.Frame == bounds && g.cached.Rotation == rot {
		return g.cached
	}
	g.cached = NewTransform(bounds, g.display, g.facing == types.FacingFront)
	g.cached.Rotation = rot
	g.hasCached = true
	return g.cached
}

// Map transforms ps for a result produced from a frame with metadata meta.
func (g *Geometry) Map(meta types.FrameMetadata, ps []overlay.Primitive) []overlay.Primitive {
	return g.TransformFor(meta).Primitives(ps)
}

// Portrait reports the current display orientation.
func (g *Geometry) Portrait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.portrait
}

func (g *Geometry) invalidateLocked() {
	g.hasFit = false
	g.hasCached = false
}
