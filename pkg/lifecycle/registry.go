package lifecycle

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Member is a registry entry. [Controller] implements it.
type Member interface {
	ID() uuid.UUID
	Destroy() error
}

// Registry is the set of live controllers. It exists so that shutdown can
// tear every controller down exactly once; it carries no other behaviour.
//
// A Registry is an ordinary value owned by whoever wires the application.
// Register and Unregister are idempotent.
type Registry struct {
	mu      sync.Mutex
	members map[uuid.UUID]Member
	metrics Metrics
}

// NewRegistry returns an empty Registry. m may be nil.
func NewRegistry(m Metrics) *Registry {
	if m == nil {
		m = nopMetrics{}
	}
	return &Registry{members: make(map[uuid.UUID]Member), metrics: m}
}

// Register adds m. It reports false when m was already registered.
func (r *Registry) Register(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.ID()]; ok {
		return false
	}
	r.members[m.ID()] = m
	r.metrics.RecordActiveControllers(context.Background(), 1)
	return true
}

// Unregister removes the member with id. It reports false when there was none.
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	r.metrics.RecordActiveControllers(context.Background(), -1)
	return true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	return ok
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// IDs returns the registered identities in a stable order.
func (r *Registry) IDs() []uuid.UUID {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids
}

// TeardownAll destroys every registered member and empties the registry.
// Members are destroyed outside the lock because Destroy unregisters itself.
func (r *Registry) TeardownAll() error {
	r.mu.Lock()
	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.mu.Unlock()

	var errs []error
	for _, m := range members {
		if err := m.Destroy(); err != nil {
			errs = append(errs, err)
		}
		r.Unregister(m.ID())
	}
	return errors.Join(errs...)
}
