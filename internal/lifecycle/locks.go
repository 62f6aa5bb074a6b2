package lifecycle

import "sync"

// keyedLocks provides per-tenant mutual exclusion for lifecycle
// operations. tryAcquire never blocks: a second operation on the same
// tenant is reported as a conflict instead of queued.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: map[string]struct{}{}}
}

func (l *keyedLocks) tryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *keyedLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
