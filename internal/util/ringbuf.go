package util

import "sync"

// RingBuffer keeps the most recent items up to a fixed capacity; older
// items fall off as new ones arrive. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	buf   []T
	next  int
	total int
}

// NewRingBuffer creates a ring buffer with the given capacity. A capacity
// below one is raised to one.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Push stores an item, evicting the oldest one once the buffer is full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	r.buf[r.next] = item
	r.next = (r.next + 1) % len(r.buf)
	r.total++
	r.mu.Unlock()
}

// Snapshot returns the retained items oldest-first.
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total <= len(r.buf) {
		out := make([]T, r.total)
		copy(out, r.buf[:r.total])
		return out
	}
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Len reports how many items are retained.
func (r *RingBuffer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total < len(r.buf) {
		return r.total
	}
	return len(r.buf)
}
