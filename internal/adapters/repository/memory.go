package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/okian/orbit/internal/domain/lap"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/pkg/metrics"
)

// MemoryStore keeps the history in memory. Writers serialize on a mutex;
// readers load the last published history without locking.
type MemoryStore struct {
	slots int

	mu    sync.Mutex
	index *lap.Index

	// history is append-only between resets, so a published slice header
	// stays valid while later appends write past its length.
	history atomic.Pointer[[]model.ContributionRecord]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		slots: newSettings(opts).slots,
		index: lap.NewIndex(nil),
	}
	empty := []model.ContributionRecord{}
	s.history.Store(&empty)
	return s
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec model.ContributionRecord) (model.ContributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index.Has(rec.ID) {
		return model.ContributionRecord{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	history := *s.history.Load()
	current := lap.Current(history, s.slots)
	lapSlots := make([]int, len(current))
	for i := range current {
		lapSlots[i] = current[i].SlotIndex
	}
	if err := checkSlot(len(history), s.slots, lapSlots, rec.SlotIndex); err != nil {
		return model.ContributionRecord{}, err
	}

	s.index.Add(rec.ID, len(history))
	history = append(history, rec)
	s.history.Store(&history)
	metrics.UpdateStoreRecords(len(history))
	return rec, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (model.ContributionRecord, error) {
	s.mu.Lock()
	pos, ok := s.index.Position(id)
	s.mu.Unlock()
	if !ok {
		return model.ContributionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return (*s.history.Load())[pos], nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]model.ContributionRecord, error) {
	history := *s.history.Load()
	out := make([]model.ContributionRecord, len(history))
	copy(out, history)
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	return len(*s.history.Load()), nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := []model.ContributionRecord{}
	s.history.Store(&empty)
	s.index = lap.NewIndex(nil)
	metrics.UpdateStoreRecords(0)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
