// Package notify holds listener registries keyed by monotonically increasing
// integer handles.
package notify

import (
	"sort"
	"sync"
)

// Registry maps handles to callbacks. It is safe for concurrent use, and
// callbacks obtained from Snapshot may add or remove listeners while running.
type Registry[T any] struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(T)
}

// Add registers fn and returns a func that removes it. The remove func is
// idempotent.
func (r *Registry[T]) Add(fn func(T)) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = make(map[int]func(T))
	}
	r.next++
	id := r.next
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Snapshot returns the current listeners in registration order.
func (r *Registry[T]) Snapshot() []func(T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.listeners[id])
	}
	return out
}
