// Package dedupe tracks record ids the store has already accepted so that a
// resubmitted record is acknowledged instead of stored twice.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Deduper records seen ids to make submissions idempotent.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id. It is used when a recorded submission failed to
	// persist and may be retried by the client.
	Unrecord(ctx context.Context, id string)

	// Reset forgets every id.
	Reset(ctx context.Context)

	Size() int
}

// inMemoryDeduper keeps ids in a map plus a FIFO list. When bounded, the
// oldest id is evicted first; eviction only weakens idempotency for very old
// records, which the repository still rejects by primary key.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int // 0 or negative = unbounded
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[id] = d.order.PushBack(id)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.order.Remove(el)
		delete(d.seen, id)
	}
}

func (d *inMemoryDeduper) Reset(_ context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = make(map[string]*list.Element)
	d.order.Init()
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.seen, front.Value.(string))
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
