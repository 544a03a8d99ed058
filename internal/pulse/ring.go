package pulse

import "sync"

// Ring is a fixed-capacity FIFO that drops the oldest entry when full.
// It is safe for concurrent use; readers get copies.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	start int
	n     int
}

// NewRing returns an empty ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Push appends v, evicting the oldest item if the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns all items, oldest first.
func (r *Ring[T]) Snapshot() []T {
	return r.Last(0)
}

// Last returns the newest n items, oldest first. n <= 0 returns everything.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]T, n)
	skip := r.n - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

// Latest returns the newest item.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

// Update calls fn on each stored item, newest first, until fn returns true.
// It reports whether fn matched.
func (r *Ring[T]) Update(fn func(*T) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := r.n - 1; i >= 0; i-- {
		if fn(&r.buf[(r.start+i)%len(r.buf)]) {
			return true
		}
	}
	return false
}

// Any reports whether pred holds for some stored item.
func (r *Ring[T]) Any(pred func(T) bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 0; i < r.n; i++ {
		if pred(r.buf[(r.start+i)%len(r.buf)]) {
			return true
		}
	}
	return false
}
