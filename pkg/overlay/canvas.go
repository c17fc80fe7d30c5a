package overlay

import "sync"

// Snapshot is an immutable copy of a Canvas at one version.
type Snapshot struct {
	Version    uint64      `json:"version"`
	Primitives []Primitive `json:"primitives"`
}

// Canvas is an in-memory [Overlay] that keeps the current primitive set and
// fans every change out to subscribers. It implements [Replacer], so routed
// results reach subscribers as a single update.
//
// Subscribers get a one-slot mailbox: when a subscriber is slow the pending
// snapshot is overwritten by the newer one, so readers always see the latest
// overlay and a stuck reader never blocks the pipeline.
type Canvas struct {
	mu      sync.Mutex
	prims   []Primitive
	version uint64
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Snapshot
}

// Compile-time interface assertions.
var (
	_ Overlay  = (*Canvas)(nil)
	_ Replacer = (*Canvas)(nil)
)

// NewCanvas returns an empty Canvas.
func NewCanvas() *Canvas {
	return &Canvas{subs: make(map[*subscriber]struct{})}
}

// Clear removes every primitive.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prims = nil
	c.publishLocked()
}

// Add appends one primitive.
func (c *Canvas) Add(p Primitive) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prims = append(c.prims, p)
	c.publishLocked()
}

// Replace swaps the whole primitive set in one step.
func (c *Canvas) Replace(ps []Primitive) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prims = append([]Primitive(nil), ps...)
	c.publishLocked()
}

// Snapshot returns a copy of the current content.
func (c *Canvas) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Version returns the number of mutations applied so far.
func (c *Canvas) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Subscribe registers a reader. The returned channel immediately holds the
// current snapshot and afterwards the latest one after every change. Call the
// returned cancel func to unsubscribe; it closes the channel and is safe to
// call more than once.
func (c *Canvas) Subscribe() (<-chan Snapshot, func()) {
	s := &subscriber{ch: make(chan Snapshot, 1)}

	c.mu.Lock()
	c.subs[s] = struct{}{}
	s.ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, s)
			close(s.ch)
			c.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Canvas) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Canvas) snapshotLocked() Snapshot {
	return Snapshot{
		Version:    c.version,
		Primitives: append([]Primitive(nil), c.prims...),
	}
}

// publishLocked bumps the version and delivers the new snapshot to every
// subscriber, overwriting any undelivered one. c.mu must be held.
func (c *Canvas) publishLocked() {
	c.version++
	snap := c.snapshotLocked()
	for s := range c.subs {
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}
