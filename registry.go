package activityz

import (
	"sync"
	"sync/atomic"
)

// syncList is an append/remove set whose iteration tolerates concurrent
// mutation: every mutation bumps a version, and an iteration that notices a
// new version restarts from the first element. Items may be visited twice
// but never skipped because of a concurrent change.
type syncList[T comparable] struct {
	items   []T
	mu      sync.Mutex
	version atomic.Uint32
	count   atomic.Int32
}

// Add appends item unless it is already present.
func (l *syncList[T]) Add(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.items {
		if existing == item {
			return
		}
	}
	l.items = append(l.items, item)
	l.version.Add(1)
	l.count.Add(1)
}

// Remove deletes item, preserving order. It reports whether it was found.
func (l *syncList[T]) Remove(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.items {
		if existing == item {
			copy(l.items[i:], l.items[i+1:])
			var zero T
			l.items[len(l.items)-1] = zero
			l.items = l.items[:len(l.items)-1]
			l.version.Add(1)
			l.count.Add(-1)
			return true
		}
	}
	return false
}

// Len returns the number of items.
func (l *syncList[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Each calls fn for every item outside the lock, in registration order.
// Returning false from fn stops the walk.
func (l *syncList[T]) Each(fn func(T) bool) {
	version := l.version.Load()
	index := 0
	for {
		var item T
		l.mu.Lock()
		if v := l.version.Load(); v != version {
			version = v
			index = 0
		}
		if index >= len(l.items) {
			l.mu.Unlock()
			return
		}
		item = l.items[index]
		index++
		l.mu.Unlock()

		if !fn(item) {
			return
		}
	}
}

// Snapshot copies the current items.
func (l *syncList[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Process-wide registries.
var (
	activeSources syncList[*ActivitySource]
	allListeners  syncList[*ActivityListener]
)
