package queue

import (
	"sync"
)

// Queue is a generic thread-safe accumulation queue. Producers Push,
// a single consumer periodically Drains everything at once.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	bound int
}

// New creates a new empty unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
	}
}

// NewBounded creates a queue that keeps at most bound items, discarding the
// oldest on overflow. A bound <= 0 means unbounded.
func NewBounded[T any](bound int) *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		bound: bound,
	}
}

// Push appends items to the queue, evicting the oldest entries if a bound
// is configured.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if q.bound > 0 && len(q.items) > q.bound {
		drop := len(q.items) - q.bound
		q.items = append(q.items[:0], q.items[drop:]...)
	}
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all items from the queue.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// Drain returns all queued items and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}
