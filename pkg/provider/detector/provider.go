// Package detector defines the Provider interface for recognition backends.
//
// A detector provider wraps an opaque recognition capability (a hosted vision
// model, a remote inference server, or an in-process test double) and exposes
// a single blocking call: submit one frame, get back a result or a failure.
// Latency is unbounded and variable; callers that must not block (such as the
// detection gate in package pipeline) run Detect on their own goroutine.
//
// Implementations must be safe for concurrent use, although the pipeline only
// ever has one Detect call outstanding per gate.
package detector

import (
	"context"
	"errors"

	"github.com/makeabledk/firebasevision/pkg/types"
)

// ErrEmptyFrame is returned by providers when a frame without image data is
// submitted.
var ErrEmptyFrame = errors.New("detector: empty frame")

// Provider is the abstraction over any detection backend.
type Provider interface {
	// Detect runs recognition over frame and returns the detections found,
	// positioned in frame coordinates. An empty result is not an error.
	//
	// Returns an error when the backend fails (network, decoding, model error)
	// or ctx is cancelled. The returned error is reported for this frame only;
	// the caller keeps submitting subsequent frames.
	Detect(ctx context.Context, frame types.Frame) (*types.DetectionResult, error)
}
