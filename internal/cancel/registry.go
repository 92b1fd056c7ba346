// Package cancel tracks request ids that the UI asked to stop. Streams poll
// the registry at their suspension points and wind down on their own.
package cancel

import (
	"sync"
	"time"
)

// Registry is a set of request ids marked canceled. The zero value is ready
// to use; a Registry must not be copied after first use.
type Registry struct {
	mu       sync.Mutex
	canceled map[string]time.Time // id -> when it was first marked
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{canceled: make(map[string]time.Time)}
}

// NewRegistryWithClock is NewRegistry with mark times taken from now.
func NewRegistryWithClock(now func() time.Time) *Registry {
	r := NewRegistry()
	r.now = now
	return r
}

// MarkCanceled flags id. Marking an id twice is the same as marking it once.
func (r *Registry) MarkCanceled(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.canceled == nil {
		r.canceled = make(map[string]time.Time)
	}
	if _, ok := r.canceled[id]; !ok {
		r.canceled[id] = r.clock()
	}
}

// Clear removes id. Clearing an unknown id is a no-op.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.canceled, id)
}

func (r *Registry) IsCanceled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.canceled[id]
	return ok
}

// ClearIfStale removes the mark for id when it is older than maxAge and
// reports whether it did. Other ids are never touched, so one request
// starting cannot undo a cancel aimed at another one still in flight.
func (r *Registry) ClearIfStale(id string, maxAge time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.canceled[id]
	if !ok || !at.Before(r.clock().Add(-maxAge)) {
		return false
	}
	delete(r.canceled, id)
	return true
}

// Len reports how many ids are currently marked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.canceled)
}

func (r *Registry) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}
