package lifecycle

import (
	"context"
	"sync"
)

// Permission is the runtime capture permission. Checking is synchronous;
// requesting is the single asynchronous step of the lifecycle and resolves to
// a grant or a denial.
type Permission interface {
	// Granted reports whether permission is currently held.
	Granted(ctx context.Context) bool

	// Request asks for permission and blocks until the decision is made or ctx
	// is done. A denial is (false, nil); err is only for a request that could
	// not be completed.
	Request(ctx context.Context) (bool, error)
}

// Static is a fixed permission decision.
type Static bool

var _ Permission = Static(false)

// Granted implements [Permission].
func (s Static) Granted(context.Context) bool { return bool(s) }

// Request implements [Permission].
func (s Static) Request(context.Context) (bool, error) { return bool(s), nil }

// Prompt is a permission decided by someone outside the process. Request parks
// until [Prompt.Resolve] is called. A grant is remembered until [Prompt.Revoke];
// a denial only answers the requests pending at that moment.
type Prompt struct {
	mu      sync.Mutex
	granted bool
	waiters []chan bool
	pending chan struct{}
}

var _ Permission = (*Prompt)(nil)

// NewPrompt returns a Prompt, optionally pre-granted.
func NewPrompt(granted bool) *Prompt {
	return &Prompt{granted: granted, pending: make(chan struct{}, 1)}
}

// Granted implements [Permission].
func (p *Prompt) Granted(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// Request implements [Permission].
func (p *Prompt) Request(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.granted {
		p.mu.Unlock()
		return true, nil
	}
	ch := make(chan bool, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case p.pending <- struct{}{}:
	default:
	}

	select {
	case ok := <-ch:
		return ok, nil
	case <-ctx.Done():
		p.remove(ch)
		return false, ctx.Err()
	}
}

// Resolve answers every pending request. It returns the number of requests
// that were waiting.
func (p *Prompt) Resolve(granted bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if granted {
		p.granted = true
	}
	n := len(p.waiters)
	for _, ch := range p.waiters {
		ch <- granted
	}
	p.waiters = nil
	return n
}

// Revoke withdraws a previous grant. Running controllers are not affected
// until their next activation.
func (p *Prompt) Revoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = false
}

// Pending returns the number of requests waiting for a decision.
func (p *Prompt) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Requested is signalled whenever a new request starts waiting. Tests and the
// HTTP API use it to notice that a decision is needed.
func (p *Prompt) Requested() <-chan struct{} {
	return p.pending
}

func (p *Prompt) remove(ch chan bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
