// Package mock provides a test double for the detector.Provider interface.
//
// Provider records every Detect call and returns the configured Result / Err.
// Set Hold to make Detect block until the test releases it, which is how the
// single-flight tests keep a detection outstanding:
//
//	hold := make(chan struct{})
//	p := &mock.Provider{Hold: hold, Entered: make(chan types.Frame, 1)}
//	gate.Submit(frame)  // dispatched, now blocked inside Detect
//	<-p.Entered
//	close(hold)         // outcome delivered
package mock

import (
	"context"
	"sync"

	"github.com/makeabledk/firebasevision/pkg/provider/detector"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// DetectCall records a single invocation of Provider.Detect.
type DetectCall struct {
	// Frame is the frame passed to Detect.
	Frame types.Frame
}

// Provider is a mock implementation of detector.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Detect when Err is nil. When nil, Detect returns an
	// empty result carrying the frame metadata.
	Result *types.DetectionResult

	// Err, if non-nil, is returned as the error from Detect.
	Err error

	// Hold, if non-nil, makes Detect block until a value is received from (or
	// the channel is closed) or ctx is cancelled.
	Hold chan struct{}

	// Entered, if non-nil, receives each frame as soon as Detect is entered.
	// It should be buffered so that Detect never blocks on it.
	Entered chan types.Frame

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// DetectCalls records every call to Detect in order.
	DetectCalls []DetectCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Ensure Provider implements detector.Provider at compile time.
var _ detector.Provider = (*Provider)(nil)

// Detect records the call, optionally blocks on Hold, and returns Result, Err.
func (p *Provider) Detect(ctx context.Context, frame types.Frame) (*types.DetectionResult, error) {
	p.mu.Lock()
	p.DetectCalls = append(p.DetectCalls, DetectCall{Frame: frame})
	hold, entered := p.Hold, p.Entered
	p.mu.Unlock()

	if entered != nil {
		entered <- frame
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &types.DetectionResult{Frame: frame.Metadata, Provider: "mock"}, nil
}

// Close records the call and returns CloseErr.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return p.CloseErr
}

// SetResult replaces Result and clears Err. Thread-safe.
func (p *Provider) SetResult(r *types.DetectionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Result = r
	p.Err = nil
}

// SetErr replaces Err. Thread-safe.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// DetectCallCount returns the number of Detect calls. Thread-safe.
func (p *Provider) DetectCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DetectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetectCalls = nil
	p.CloseCallCount = 0
}
