package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/makeabledk/firebasevision/internal/observe"
	"github.com/makeabledk/firebasevision/internal/resilience"
	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// tracedDetector wraps the detector chain in a span per detection.
type tracedDetector struct {
	chain *resilience.DetectorFallback
}

var _ pipeline.Detector[*types.DetectionResult] = (*tracedDetector)(nil)

func traced(chain *resilience.DetectorFallback) *tracedDetector {
	return &tracedDetector{chain: chain}
}

// Detect implements pipeline.Detector.
func (t *tracedDetector) Detect(ctx context.Context, frame types.Frame) (*types.DetectionResult, error) {
	ctx, span := observe.StartSpan(ctx, "detector.detect")
	defer span.End()
	span.SetAttributes(
		attribute.Int("frame.width", frame.Metadata.Width),
		attribute.Int("frame.height", frame.Metadata.Height),
		attribute.Int("frame.rotation", int(frame.Metadata.Rotation)),
	)

	res, err := t.chain.Detect(ctx, frame)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	span.SetAttributes(
		attribute.String("detector.provider", res.Provider),
		attribute.Int("detector.detections", len(res.Detections)),
	)
	return res, nil
}

// Close closes the wrapped chain.
func (t *tracedDetector) Close() error { return t.chain.Close() }
