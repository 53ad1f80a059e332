// Package registry holds the ring entries the renderer draws for the
// current lap.
//
// A Registry never holds more entries than the orbit has slots. Readers take
// a copy with List, and Rebuild swaps the whole set under one lock, so a
// reader never observes a half-reset registry.
package registry

import (
	"fmt"
	"sync"

	"github.com/okian/orbit/internal/domain/model"
)

// State is the lap state of a registry.
type State int

// Registry states.
const (
	Empty State = iota
	Populating
	Full
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Populating:
		return "populating"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Registry is the ordered set of rendered ring entries. Append order is the
// visual stacking order; spatial placement comes from each entry's slot.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	entries  []model.RingEntry
	byID     map[string]int
}

// New creates an empty registry for an orbit of capacity slots.
func New(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		entries:  make([]model.RingEntry, 0, capacity),
		byID:     make(map[string]int, capacity),
	}
}

// Capacity returns the orbit size.
func (r *Registry) Capacity() int { return r.capacity }

// Reset drops every entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Registry) resetLocked() {
	r.entries = r.entries[:0]
	clear(r.byID)
}

// Append adds e after the existing entries.
func (r *Registry) Append(e model.RingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(e)
}

func (r *Registry) appendLocked(e model.RingEntry) error {
	if len(r.entries) >= r.capacity {
		return ErrFull
	}
	if _, ok := r.byID[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	r.byID[e.ID] = len(r.entries)
	r.entries = append(r.entries, e)
	return nil
}

// ResetAndAppend starts a new lap holding only e.
func (r *Registry) ResetAndAppend(e model.RingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	return r.appendLocked(e)
}

// Replace swaps the entry identified by oldID for e, keeping its position.
func (r *Registry) Replace(oldID string, e model.RingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.byID[oldID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldID)
	}
	if other, taken := r.byID[e.ID]; taken && other != pos {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	delete(r.byID, oldID)
	r.byID[e.ID] = pos
	r.entries[pos] = e
	return nil
}

// Remove deletes the entry identified by id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.byID[id]
	if !ok {
		return false
	}
	r.entries = append(r.entries[:pos], r.entries[pos+1:]...)
	delete(r.byID, id)
	for i := pos; i < len(r.entries); i++ {
		r.byID[r.entries[i].ID] = i
	}
	return true
}

// Rebuild atomically replaces the contents with entries.
func (r *Registry) Rebuild(entries []model.RingEntry) error {
	if len(entries) > r.capacity {
		return fmt.Errorf("%w: %d entries for %d slots", ErrFull, len(entries), r.capacity)
	}
	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		if _, ok := byID[e.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
		byID[e.ID] = i
	}

	next := make([]model.RingEntry, len(entries), r.capacity)
	copy(next, entries)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = next
	r.byID = byID
	return nil
}

// List returns a copy of the entries in append order.
func (r *Registry) List() []model.RingEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.RingEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get returns the entry identified by id.
func (r *Registry) Get(id string) (model.RingEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.byID[id]
	if !ok {
		return model.RingEntry{}, false
	}
	return r.entries[pos], true
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// State reports Empty, Populating or Full.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch n := len(r.entries); {
	case n == 0:
		return Empty
	case n >= r.capacity:
		return Full
	default:
		return Populating
	}
}
