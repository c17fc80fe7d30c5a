package lifecycle

import "sync"

// OwnerState is the coarse lifecycle state of an owning component.
type OwnerState int

const (
	OwnerInitialized OwnerState = iota
	OwnerActive
	OwnerInactive
	OwnerDestroyed
)

// String returns the name of s.
func (s OwnerState) String() string {
	switch s {
	case OwnerInitialized:
		return "initialized"
	case OwnerActive:
		return "active"
	case OwnerInactive:
		return "inactive"
	case OwnerDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Event is a lifecycle signal emitted by an owner.
type Event string

const (
	EventActivated   Event = "activated"
	EventDeactivated Event = "deactivated"
	EventDestroyed   Event = "destroyed"
)

// Observer receives owner lifecycle signals.
type Observer interface {
	OnOwnerEvent(ev Event)
}

// Owner is the capability a controller needs from the component that hosts
// it. Any type can be an owner; there is no base type to embed.
type Owner interface {
	// CurrentState returns the owner's current lifecycle state.
	CurrentState() OwnerState

	// AddObserver subscribes o to future lifecycle signals.
	AddObserver(o Observer)

	// RemoveObserver unsubscribes o. Removing an unknown observer is a no-op.
	RemoveObserver(o Observer)

	// Finish asks the owner to terminate itself.
	Finish()
}

// Host is an in-process [Owner] driven by explicit calls, used by the daemon
// (where the HTTP API plays the hosting screen) and by tests.
//
// Observers are notified outside the lock, in registration order.
type Host struct {
	mu        sync.Mutex
	state     OwnerState
	observers []Observer
	finishes  int
	onFinish  func()
}

var _ Owner = (*Host)(nil)

// NewHost returns a Host in the initialized state. onFinish, if non-nil, runs
// on every Finish call before the host destroys itself.
func NewHost(onFinish func()) *Host {
	return &Host{onFinish: onFinish}
}

// CurrentState implements [Owner].
func (h *Host) CurrentState() OwnerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// AddObserver implements [Owner].
func (h *Host) AddObserver(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// RemoveObserver implements [Owner].
func (h *Host) RemoveObserver(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, obs := range h.observers {
		if obs == o {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			return
		}
	}
}

// Finish implements [Owner]: it counts the request, runs the finish hook and
// destroys the host.
func (h *Host) Finish() {
	h.mu.Lock()
	h.finishes++
	hook := h.onFinish
	h.mu.Unlock()

	if hook != nil {
		hook()
	}
	h.Destroy()
}

// Finishes returns how many times Finish was called.
func (h *Host) Finishes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finishes
}

// Activate moves the host to active and signals observers. It is a no-op when
// already active or destroyed.
func (h *Host) Activate() { h.transition(OwnerActive, EventActivated) }

// Deactivate moves an active host to inactive and signals observers.
func (h *Host) Deactivate() { h.transition(OwnerInactive, EventDeactivated) }

// Destroy moves the host to destroyed, signals observers and drops them.
func (h *Host) Destroy() { h.transition(OwnerDestroyed, EventDestroyed) }

func (h *Host) transition(to OwnerState, ev Event) {
	h.mu.Lock()
	from := h.state
	switch {
	case from == OwnerDestroyed, from == to:
		h.mu.Unlock()
		return
	case to == OwnerInactive && from != OwnerActive:
		h.mu.Unlock()
		return
	}
	h.state = to
	obs := append([]Observer(nil), h.observers...)
	if to == OwnerDestroyed {
		h.observers = nil
	}
	h.mu.Unlock()

	for _, o := range obs {
		o.OnOwnerEvent(ev)
	}
}
