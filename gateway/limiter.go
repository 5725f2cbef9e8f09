package gateway

import (
	"sync"
	"time"
)

// slidingLimiter admits at most limit frames in any trailing window. It
// keeps the admit times of the last limit accepted frames in a fixed ring:
// a frame is admitted iff fewer than limit frames were admitted within the
// window ending now. Excess frames are rejected, never queued, and a
// rejection does not consume capacity.
type slidingLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	times  []time.Time
	head   int // index of the oldest retained admit time
	size   int
}

func newSlidingLimiter(limit int, window time.Duration) *slidingLimiter {
	l := &slidingLimiter{limit: limit, window: window}
	if limit > 0 {
		l.times = make([]time.Time, limit)
	}
	return l
}

// allow reports whether a frame arriving at now fits the window and, if
// so, records it.
func (l *slidingLimiter) allow(now time.Time) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < l.limit {
		l.times[(l.head+l.size)%l.limit] = now
		l.size++
		return true
	}

	// full: the oldest retained admit must have slid out of the window
	if now.Sub(l.times[l.head]) < l.window {
		return false
	}
	l.times[l.head] = now
	l.head = (l.head + 1) % l.limit
	return true
}
