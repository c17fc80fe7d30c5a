package pipeline

import (
	"log/slog"
	"sync"

	"github.com/makeabledk/firebasevision/pkg/overlay"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// DetectionProcessor is the [Processor] for detector providers returning
// *types.DetectionResult. Detections with text become text primitives, all
// others bounding boxes.
type DetectionProcessor struct {
	// MinConfidence drops detections scoring below it. Detections that report
	// no confidence (zero) are always kept.
	MinConfidence float64

	// Failure, if set, is called for every failed outcome after logging.
	Failure func(err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	mu sync.RWMutex
}

var _ Processor[*types.DetectionResult, []types.Detection] = (*DetectionProcessor)(nil)

// Payload returns the kept detections, or ok=false when there are none.
func (p *DetectionProcessor) Payload(res *types.DetectionResult) ([]types.Detection, bool) {
	dets := p.keep(res)
	return dets, len(dets) > 0
}

// Primitives returns one primitive per kept detection.
func (p *DetectionProcessor) Primitives(res *types.DetectionResult) []overlay.Primitive {
	dets := p.keep(res)
	out := make([]overlay.Primitive, 0, len(dets))
	for _, d := range dets {
		prim := overlay.Primitive{Kind: overlay.KindBox, Rect: d.Box, Label: d.Label}
		if d.Text != "" {
			prim.Kind = overlay.KindText
			prim.Label = d.Text
		}
		out = append(out, prim)
	}
	return out
}

// OnFailure logs err and forwards it to Failure.
func (p *DetectionProcessor) OnFailure(err error) {
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Warn("pipeline: detection failed", "err", err)
	if p.Failure != nil {
		p.Failure(err)
	}
}

// SetMinConfidence changes the threshold while results are being routed.
func (p *DetectionProcessor) SetMinConfidence(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.MinConfidence = v
}

func (p *DetectionProcessor) keep(res *types.DetectionResult) []types.Detection {
	if res == nil {
		return nil
	}
	p.mu.RLock()
	minConf := p.MinConfidence
	p.mu.RUnlock()
	if minConf <= 0 {
		return res.Detections
	}
	out := make([]types.Detection, 0, len(res.Detections))
	for _, d := range res.Detections {
		if d.Confidence == 0 || d.Confidence >= minConf {
			out = append(out, d)
		}
	}
	return out
}
