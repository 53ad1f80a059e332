// Package worker drains a queue and hands every item to a handler.
//
// A single worker preserves enqueue order, which is what the orbit session
// relies on to apply bootstraps and deltas in receipt order.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultName = "worker"
)

// Handler processes one dequeued item.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error { return f(ctx, item) }

// Queue defines how workers receive items.
type Queue[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Worker processes items using the provided handler.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for one queue.
type InMemoryWorker[T any] struct {
	queue   Queue[T]
	handler Handler[T]
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker[T any](q Queue[T], h Handler[T], opts ...Option) *InMemoryWorker[T] {
	s := settings{name: defaultName}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named(defaultName)
	}
	if s.name != defaultName {
		s.logger = s.logger.Named(s.name)
	}

	return &InMemoryWorker[T]{
		queue:    q,
		handler:  h,
		name:     s.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   s.logger,
	}
}

// Run starts the worker loop.
func (w *InMemoryWorker[T]) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			w.process(ctx, item)
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker[T]) Done() <-chan struct{} { return w.done }

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker[T]) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker[T]) process(ctx context.Context, item T) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessing(w.name, float64(time.Since(start).Microseconds())/1000)
	}()

	if err := w.handler.Handle(ctx, item); err != nil {
		metrics.RecordWorkerError(w.name)
		w.logger.Debug(ctx, "handler returned error", logger.Error(err))
	}
}
