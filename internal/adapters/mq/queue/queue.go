// Package queue defines the contract for enqueuing and consuming items in
// receipt order.
//
// The in-memory implementation is a bounded channel. Producers never block:
// a full queue rejects the item and the caller decides whether to drop it or
// report backpressure.
package queue

import (
	"context"
	"sync"

	"github.com/okian/orbit/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
	defaultName          = "queue"
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item to the queue. It returns ErrFull when the queue
	// is at capacity and ErrClosed after Close.
	Enqueue(ctx context.Context, item T) error

	// Dequeue returns a channel that receives items in enqueue order.
	// The channel is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting new items.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	items    chan T
	name     string
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	s := settings{capacity: defaultQueueCapacity, name: defaultName}
	for _, opt := range opts {
		opt(&s)
	}

	q := &InMemoryQueue[T]{
		items:    make(chan T, s.capacity),
		name:     s.name,
		capacity: s.capacity,
	}

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(q.name, 0)
	return q
}

// Name returns the queue label used in metrics and logs.
func (q *InMemoryQueue[T]) Name() string { return q.name }

// Enqueue adds an item to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected(q.name, "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected(q.name, "context_cancelled")
		return err
	}

	select {
	case q.items <- item:
		metrics.RecordQueueEnqueue(q.name)
		metrics.UpdateQueueSize(q.name, len(q.items))
		return nil
	default:
		metrics.RecordQueueRejected(q.name, "queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that will receive items as they become available.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for item := range q.items {
			select {
			case out <- item:
				metrics.UpdateQueueSize(q.name, len(q.items))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	size := len(q.items)
	metrics.UpdateQueueSize(q.name, size)
	return size
}

// Close stops accepting items; queued items are still delivered.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
