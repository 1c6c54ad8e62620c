package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Enqueue once Close has been called.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by Enqueue when a bounded queue is at capacity.
	ErrFull = errors.New("queue full")
)

// Queue is a FIFO mailbox that accepts items from many producers and hands
// them to one or more consumers.
//
// Enqueue never blocks. Dequeue blocks the consumer until an item arrives.
// After Close, consumers keep receiving the remaining items and only observe
// the closed state once the queue is empty.
type Queue[T any] struct {
	capacity int
	wake     chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	items     []T
	closed    bool
	closeOnce sync.Once
}

// New creates a queue. A capacity of zero or less means unbounded.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}

	return &Queue[T]{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue returns the next item, blocking until one is available.
//
// It reports false when the queue is closed and drained, or when ctx is done.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		item, ok, closed := q.pop()
		if ok {
			return item, true
		}
		if closed {
			return item, false
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.wake:
		case <-q.done:
		}
	}
}

// TryDequeue returns the next item without blocking.
func (q *Queue[T]) TryDequeue() (T, bool) {
	item, ok, _ := q.pop()
	return item, ok
}

func (q *Queue[T]) pop() (T, bool, bool) {
	var zero T

	q.mu.Lock()
	if len(q.items) == 0 {
		closed := q.closed
		q.mu.Unlock()
		return zero, false, closed
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	remaining := len(q.items)
	if remaining == 0 {
		// Drop the consumed prefix so the backing array can be reused.
		q.items = nil
	}
	q.mu.Unlock()

	if remaining > 0 {
		// Hand the wake token on so another idle consumer picks up the rest.
		q.signal()
	}

	return item, true, false
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting new items. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the configured bound, or zero for an unbounded queue.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}
