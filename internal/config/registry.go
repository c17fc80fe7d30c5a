package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/provider/detector"
)

// ErrProviderNotRegistered is returned by the Create* methods when no factory
// has been registered for the requested name.
var ErrProviderNotRegistered = errors.New("provider not registered")

// DetectorFactory builds a detector from its config entry.
type DetectorFactory func(ProviderEntry) (detector.Provider, error)

// CaptureFactory builds a capture device from the capture section.
type CaptureFactory func(CaptureConfig) (capture.Device, error)

// Registry maps provider names to factories. Factories are registered once at
// startup and looked up whenever the config is (re)loaded.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	detector map[string]DetectorFactory
	capture  map[string]CaptureFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		detector: make(map[string]DetectorFactory),
		capture:  make(map[string]CaptureFactory),
	}
}

// RegisterDetector registers a detector factory under name, replacing any
// previous one.
func (r *Registry) RegisterDetector(name string, factory DetectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector[name] = factory
}

// RegisterCapture registers a capture device factory under name.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateDetector instantiates a detector using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateDetector(entry ProviderEntry) (detector.Provider, error) {
	r.mu.RLock()
	factory, ok := r.detector[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: detector/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates the capture device named by cfg.Device.
func (r *Registry) CreateCapture(cfg CaptureConfig) (capture.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Device)
	}
	return factory(cfg)
}

// DetectorNames returns the registered detector names in sorted order.
func (r *Registry) DetectorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detector))
	for n := range r.detector {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
