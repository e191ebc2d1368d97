package queue

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue closed")

// ErrFull is returned by Push when a Reject queue is at capacity.
var ErrFull = errors.New("queue full")

// Policy decides what Push does when the queue is full.
type Policy int

const (
	// DropOldest evicts the head to make room for the new item.
	DropOldest Policy = iota
	// Reject refuses the new item with ErrFull.
	Reject
)

// String returns the config name of the policy.
func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Queue is a thread-safe fixed-capacity ring buffer.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	policy Policy
	closed bool

	// Stats
	totalPushed  int64
	totalPopped  int64
	totalDropped int64
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int, policy Policy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		buf:    make([]T, capacity),
		policy: policy,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item without blocking. It reports whether an older item
// was evicted to make room (DropOldest only). It returns ErrFull when a
// Reject queue is at capacity and ErrClosed after Close.
func (q *Queue[T]) Push(item T) (evicted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}

	if q.count == len(q.buf) {
		if q.policy == Reject {
			q.totalDropped++
			return false, ErrFull
		}
		q.popLocked()
		q.totalDropped++
		evicted = true
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.totalPushed++

	q.cond.Signal()
	return evicted, nil
}

// Pop removes and returns the oldest item, blocking until one is available.
// It returns false once the queue is closed and empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		var zero T
		return zero, false
	}

	item := q.popLocked()
	q.totalPopped++
	return item, true
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}

	item := q.popLocked()
	q.totalPopped++
	return item, true
}

// Close stops accepting items and wakes blocked consumers. Items already
// queued can still be popped unless Discard is called.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Discard drops every queued item and returns how many were dropped.
func (q *Queue[T]) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	for q.count > 0 {
		q.popLocked()
	}
	q.totalDropped += int64(n)
	return n
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:        q.count,
		Capacity:     len(q.buf),
		TotalPushed:  q.totalPushed,
		TotalPopped:  q.totalPopped,
		TotalDropped: q.totalDropped,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Count        int
	Capacity     int
	TotalPushed  int64
	TotalPopped  int64
	TotalDropped int64
}

// popLocked removes the head. Must be called with lock held and count > 0.
func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item
}
