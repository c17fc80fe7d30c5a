// Package mock provides a test double for the overlay.Overlay interface.
//
// Overlay records every Clear and Add call in order, so tests can assert both
// the final content and the exact mutation sequence (for example that a
// failed detection produced no mutation at all).
package mock

import (
	"sync"

	"github.com/makeabledk/firebasevision/pkg/overlay"
)

// Op identifies a recorded mutation.
type Op string

const (
	OpClear Op = "clear"
	OpAdd   Op = "add"
)

// Call records a single mutation.
type Call struct {
	Op        Op
	Primitive overlay.Primitive
}

// Overlay is a mock implementation of overlay.Overlay. It deliberately does
// not implement overlay.Replacer so that overlay.Apply exercises the
// Clear-then-Add path.
type Overlay struct {
	mu    sync.Mutex
	calls []Call
	prims []overlay.Primitive
}

// Ensure Overlay implements overlay.Overlay at compile time.
var _ overlay.Overlay = (*Overlay)(nil)

// Clear records the call and drops the current content.
func (o *Overlay) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, Call{Op: OpClear})
	o.prims = nil
}

// Add records the call and appends p.
func (o *Overlay) Add(p overlay.Primitive) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, Call{Op: OpAdd, Primitive: p})
	o.prims = append(o.prims, p)
}

// Calls returns a copy of every recorded mutation. Thread-safe.
func (o *Overlay) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Call(nil), o.calls...)
}

// MutationCount returns the number of recorded mutations. Thread-safe.
func (o *Overlay) MutationCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// Primitives returns the current content. Thread-safe.
func (o *Overlay) Primitives() []overlay.Primitive {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]overlay.Primitive(nil), o.prims...)
}

// Reset clears recorded calls and content. Thread-safe.
func (o *Overlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = nil
	o.prims = nil
}
