package executor

import "sync"

// Inflight tracks opportunity identities with an execution attempt in
// progress, enforcing at most one attempt per identity at any time. A second
// concurrent attempt is rejected, not queued. Safe for concurrent use.
type Inflight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInflight creates an empty tracker.
func NewInflight() *Inflight {
	return &Inflight{active: make(map[string]struct{})}
}

// TryBegin records the identity and returns true, or returns false when an
// attempt for it is already in flight.
func (f *Inflight) TryBegin(identity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[identity]; ok {
		return false
	}
	f.active[identity] = struct{}{}
	return true
}

// End releases the identity once its attempt reaches a terminal state.
func (f *Inflight) End(identity string) {
	f.mu.Lock()
	delete(f.active, identity)
	f.mu.Unlock()
}

// Len returns the number of attempts currently in flight.
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}
