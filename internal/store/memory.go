package store

import (
	"context"
	"sync"
)

// MemoryStore is a [Store] that keeps the newest records in a fixed-size ring.
// Older records are overwritten.
type MemoryStore struct {
	mu   sync.Mutex
	ring []Record
	next int
	full bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a [MemoryStore] holding up to size records. A
// non-positive size selects a default.
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &MemoryStore{ring: make([]Record, size)}
}

// Save implements [Store].
func (m *MemoryStore) Save(_ context.Context, recs ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.ring[m.next] = r
		m.next = (m.next + 1) % len(m.ring)
		if m.next == 0 {
			m.full = true
		}
	}
	return nil
}

// Recent implements [Store].
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.ring)
	}
	limit = min(limit, n)
	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out, nil
}

// Len returns the number of records held.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return len(m.ring)
	}
	return m.next
}
