// Package ring provides a thread-safe, non-consuming ring buffer for
// time-ordered records. Unlike a queue, reads never remove items: the ring
// retains the newest N records, drops the oldest on overflow, and supports
// ordered snapshots and head trimming for age-based eviction.
package ring

import (
	"fmt"
	"sync"
)

// Ring is a fixed-capacity buffer retaining the newest appended items.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	cap   int
	size  int
	head  int // index of the oldest item

	appends uint64
	drops   uint64
}

// New creates a ring with the given capacity.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &Ring[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}, nil
}

// Append adds an item, dropping the oldest when full. It reports whether an
// item was evicted to make room.
func (r *Ring[T]) Append(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if r.size == r.cap {
		// Overwrite the oldest slot
		var zero T
		r.items[r.head] = zero
		r.head = (r.head + 1) % r.cap
		r.size--
		r.drops++
		evicted = true
	}

	idx := (r.head + r.size) % r.cap
	r.items[idx] = item
	r.size++
	r.appends++
	return evicted
}

// Len returns the current number of retained items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.cap
}

// Snapshot returns a copy of the retained items, oldest first. The copy is
// safe to read while appends continue.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%r.cap]
	}
	return out
}

// TailWhile returns a copy of the newest contiguous run of items for which
// keep is true, oldest first. With items ordered by timestamp this yields
// the "events newer than cutoff" window in one pass from the tail.
func (r *Ring[T]) TailWhile(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for i := r.size - 1; i >= 0; i-- {
		if !keep(r.items[(r.head+i)%r.cap]) {
			break
		}
		n++
	}

	out := make([]T, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(r.head+start+i)%r.cap]
	}
	return out
}

// TrimHead drops the oldest items for which drop is true, stopping at the
// first retained item. It returns the number of items removed.
func (r *Ring[T]) TrimHead(drop func(T) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	var zero T
	for r.size > 0 && drop(r.items[r.head]) {
		r.items[r.head] = zero
		r.head = (r.head + 1) % r.cap
		r.size--
		removed++
	}
	r.drops += uint64(removed)
	return removed
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := 0; i < r.size; i++ {
		r.items[(r.head+i)%r.cap] = zero
	}
	r.head = 0
	r.size = 0
}

// Stats returns lifetime append and drop counts.
func (r *Ring[T]) Stats() (appends, drops uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appends, r.drops
}
