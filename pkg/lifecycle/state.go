// Package lifecycle decides when the capture device may run.
//
// A [Controller] follows the lifecycle of its owning component (an [Owner])
// and walks this state machine:
//
//	Created ──activate──▶ PermissionPending ──granted──▶ Starting ──opened──▶ Started
//	                            │  ▲                          │                 │
//	                       denied  └──────activate──── Paused ◀┴─open failed─────┘ deactivate
//	                            ▼
//	                        Destroyed  (also from any state when the owner is destroyed)
//
// Permission is re-checked on every activation because it can be revoked
// between pauses. A denial destroys the controller and asks the owner to
// finish exactly once. Destroyed is terminal.
package lifecycle

import "errors"

// State is a controller lifecycle state.
type State int

const (
	StateCreated State = iota
	StatePermissionPending
	StateStarting
	StateStarted
	StatePaused
	StateDestroyed
)

var stateNames = [...]string{
	StateCreated:           "created",
	StatePermissionPending: "permission_pending",
	StateStarting:          "starting",
	StateStarted:           "started",
	StatePaused:            "paused",
	StateDestroyed:         "destroyed",
}

// String returns the snake_case name of s.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler so states render by name in
// JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	// ErrPermissionDenied is recorded when the capture permission was refused.
	// It destroys the controller and triggers Owner.Finish.
	ErrPermissionDenied = errors.New("lifecycle: permission denied")

	// ErrDeviceOpen wraps a capture device start failure. The controller
	// stays paused until the owner activates it again.
	ErrDeviceOpen = errors.New("lifecycle: device open failed")

	// ErrDestroyed is returned by operations on a destroyed controller.
	ErrDestroyed = errors.New("lifecycle: controller destroyed")
)
