// Package allocator picks free orbit slots and ring hues.
//
// Placement is uniform over the free slots rather than first-free so rings
// appear scattered around the orbit. The random source is injectable so
// tests can pin draws with a seed.
package allocator

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/orbit/internal/domain/model"
)

// Source is the subset of *rand.Rand the allocator draws from.
type Source interface {
	IntN(n int) int
	Float64() float64
}

// Allocator draws slots for an orbit of a fixed size. It is safe for
// concurrent use.
type Allocator struct {
	size int

	mu  sync.Mutex
	rng Source
}

// Option applies a configuration option to the Allocator.
type Option func(*Allocator)

// WithSeed makes every draw reproducible.
func WithSeed(seed uint64) Option {
	return func(a *Allocator) {
		a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // placement, not security
	}
}

// WithSource replaces the random source.
func WithSource(src Source) Option {
	return func(a *Allocator) {
		if src != nil {
			a.rng = src
		}
	}
}

// New creates an allocator for size slots.
func New(size int, opts ...Option) *Allocator {
	now := uint64(time.Now().UnixNano()) //nolint:gosec // seed only
	a := &Allocator{
		size: size,
		rng:  rand.New(rand.NewPCG(now, now>>1)), //nolint:gosec // placement, not security
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Size returns the number of slots the allocator draws from.
func (a *Allocator) Size() int { return a.size }

// PickAvailable returns a uniformly random slot in [0, Size()) that is not in
// used. It returns ErrExhausted when every slot is taken; that is the normal
// end-of-lap signal, not a failure.
func (a *Allocator) PickAvailable(used SlotSet) (int, error) {
	eligible := make([]int, 0, a.size)
	for i := 0; i < a.size; i++ {
		if !used.Has(i) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return 0, ErrExhausted
	}

	a.mu.Lock()
	n := a.rng.IntN(len(eligible))
	a.mu.Unlock()
	return eligible[n], nil
}

// Hue returns a random hue in [0, 360).
func (a *Allocator) Hue() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() * model.HueMax
}
