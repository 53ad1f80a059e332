// Package session is the explicit state holder of one orbit client: the
// contribution history, the lap window derived from it, the ring registry
// and the allocation state.
//
// Every mutation takes the session lock for its whole duration and never
// blocks on I/O while holding it, so bootstrap, delta and submission handlers
// are serialized no matter which goroutine delivers them.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/okian/orbit/internal/domain/allocator"
	"github.com/okian/orbit/internal/domain/lap"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/orbit"
	"github.com/okian/orbit/internal/domain/registry"
	"github.com/okian/orbit/pkg/metrics"
)

// Session owns the working set of one client.
type Session struct {
	mu sync.Mutex

	table     *orbit.Table
	projector *registry.Projector
	registry  *registry.Registry
	alloc     *allocator.Allocator

	history []model.ContributionRecord
	index   *lap.Index

	// used is the AllocationState: slots of the current lap plus the
	// pending slot while a submission is in flight.
	used    allocator.SlotSet
	pending *model.ContributionRecord
}

// Option applies a configuration option to the Session.
type Option func(*Session)

// WithAllocator replaces the default time-seeded allocator.
func WithAllocator(a *allocator.Allocator) Option {
	return func(s *Session) {
		if a != nil {
			s.alloc = a
		}
	}
}

// WithRingScale sets the scale of projected ring entries.
func WithRingScale(scale float64) Option {
	return func(s *Session) {
		s.projector = registry.NewProjector(s.table, scale)
	}
}

// New creates an empty session over table.
func New(table *orbit.Table, opts ...Option) *Session {
	s := &Session{
		table:     table,
		projector: registry.NewProjector(table, 0),
		registry:  registry.New(table.Size()),
		index:     lap.NewIndex(nil),
		used:      allocator.SlotSet{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alloc == nil {
		s.alloc = allocator.New(table.Size())
	}
	if s.alloc.Size() != table.Size() {
		panic(fmt.Sprintf("session: allocator size %d does not match orbit size %d", s.alloc.Size(), table.Size()))
	}
	return s
}

// Size returns N.
func (s *Session) Size() int { return s.table.Size() }

// Table returns the geometry table.
func (s *Session) Table() *orbit.Table { return s.table }

// Allocator returns the allocator, which also draws hues.
func (s *Session) Allocator() *allocator.Allocator { return s.alloc }

// ApplyBootstrap replaces the history with records and rebuilds the registry
// from the resulting lap. Records that break the orbit invariants reject the
// whole payload and leave the working set untouched.
func (s *Session) ApplyBootstrap(records []model.ContributionRecord) error {
	if err := s.validateHistory(records); err != nil {
		return err
	}

	history := make([]model.ContributionRecord, len(records))
	copy(history, records)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = history
	s.index = lap.NewIndex(history)
	if s.pending != nil && s.index.Has(s.pending.ID) {
		// The store already has our pending record; it now shows as
		// authoritative and Confirm only has to release the pending slot.
		s.pending = nil
	}
	return s.rebuildLocked()
}

func (s *Session) validateHistory(records []model.ContributionRecord) error {
	n := s.table.Size()
	ids := make(map[string]struct{}, len(records))
	for i := range records {
		if err := s.validate(&records[i]); err != nil {
			return err
		}
		if _, dup := ids[records[i].ID]; dup {
			return fmt.Errorf("%w: record %s appears twice", ErrInvariantViolation, records[i].ID)
		}
		ids[records[i].ID] = struct{}{}
	}

	seen := allocator.SlotSet{}
	for _, r := range lap.Current(records, n) {
		if seen.Has(r.SlotIndex) {
			return fmt.Errorf("%w: slot %d repeated in current lap", ErrInvariantViolation, r.SlotIndex)
		}
		seen.Add(r.SlotIndex)
	}
	return nil
}

func (s *Session) validate(rec *model.ContributionRecord) error {
	err := rec.Validate(s.table.Size())
	if errors.Is(err, model.ErrSlotOutOfRange) {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return err
}

// ApplyDelta appends one record pushed by another client. When the current
// lap is complete the record starts a new one and the registry is reset
// first. A record whose slot is already used in the current lap is rejected
// with ErrDuplicateSlot.
func (s *Session) ApplyDelta(rec model.ContributionRecord) error {
	if err := s.validate(&rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index.Has(rec.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyApplied, rec.ID)
	}
	if s.pending != nil && s.pending.ID == rec.ID {
		// Our own submission echoed back by the push channel.
		return s.confirmLocked(rec)
	}

	n := s.table.Size()
	pendingShown := s.pendingShownLocked()
	entry := s.projector.Project(&rec)

	if lap.Full(len(s.history), n) {
		if pendingShown && s.pending.SlotIndex == rec.SlotIndex {
			return fmt.Errorf("%w: %d", ErrDuplicateSlot, rec.SlotIndex)
		}
		s.appendHistoryLocked(rec)
		if pendingShown {
			// The registry already holds the new lap started by our preview.
			if err := s.registry.Append(entry); err != nil {
				return err
			}
		} else {
			if err := s.registry.ResetAndAppend(entry); err != nil {
				return err
			}
			metrics.RecordLapReset()
		}
		s.used = allocator.NewSlotSet(rec.SlotIndex)
		if pendingShown {
			s.used.Add(s.pending.SlotIndex)
		}
		s.updateGaugesLocked()
		return nil
	}

	if s.used.Has(rec.SlotIndex) {
		return fmt.Errorf("%w: %d", ErrDuplicateSlot, rec.SlotIndex)
	}
	s.appendHistoryLocked(rec)
	if err := s.registry.Append(entry); err != nil {
		return err
	}
	s.used.Add(rec.SlotIndex)
	s.updateGaugesLocked()
	return nil
}

// Begin claims a free slot, builds the record with build and shows it as a
// pending preview. If the current lap is complete the allocation starts a
// new lap: the used set is cleared locally and the registry reset to the
// preview alone.
func (s *Session) Begin(build func(slot int) model.ContributionRecord) (model.ContributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return model.ContributionRecord{}, ErrPendingExists
	}

	newLap := false
	slot, err := s.alloc.PickAvailable(s.used)
	if errors.Is(err, allocator.ErrExhausted) {
		newLap = true
		slot, err = s.alloc.PickAvailable(nil)
		if err != nil {
			panic(fmt.Sprintf("session: allocation failed after lap reset: %v", err))
		}
	}

	rec := build(slot)
	if rec.SlotIndex != slot {
		return model.ContributionRecord{}, fmt.Errorf("%w: built record moved slot %d to %d", ErrInvariantViolation, slot, rec.SlotIndex)
	}
	if err := s.validate(&rec); err != nil {
		return model.ContributionRecord{}, err
	}

	preview := s.projector.Preview(&rec)
	if newLap {
		if err := s.registry.ResetAndAppend(preview); err != nil {
			return model.ContributionRecord{}, err
		}
		s.used = allocator.NewSlotSet(slot)
		metrics.RecordLapReset()
	} else {
		if err := s.registry.Append(preview); err != nil {
			return model.ContributionRecord{}, err
		}
		s.used.Add(slot)
	}

	p := rec
	s.pending = &p
	s.updateGaugesLocked()
	return rec, nil
}

// Confirm marks the pending record durable. canonical is the record as the
// store accepted it; when it keeps the slot the preview is replaced in place.
// ErrNoPending means an echo or a bootstrap already confirmed it.
func (s *Session) Confirm(canonical model.ContributionRecord) error {
	if err := s.validate(&canonical); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return ErrNoPending
	}
	return s.confirmLocked(canonical)
}

func (s *Session) confirmLocked(canonical model.ContributionRecord) error {
	p := s.pending
	s.pending = nil

	if s.index.Has(canonical.ID) {
		return s.rebuildLocked()
	}
	s.appendHistoryLocked(canonical)

	if canonical.SlotIndex != p.SlotIndex {
		return s.rebuildLocked()
	}
	if err := s.registry.Replace(p.ID, s.projector.Project(&canonical)); err != nil {
		return s.rebuildLocked()
	}
	s.updateGaugesLocked()
	return nil
}

// Retract removes the pending preview identified by id and frees its slot.
// If the preview had started a new lap the previous lap is shown again.
func (s *Session) Retract(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.ID != id {
		return fmt.Errorf("%w: %s", ErrNoPending, id)
	}
	s.pending = nil
	return s.rebuildLocked()
}

// Reset drops the local working set: history, registry and allocation
// state. The store is not touched; the next bootstrap repopulates.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = nil
	s.index = lap.NewIndex(nil)
	s.pending = nil
	s.used = allocator.SlotSet{}
	s.registry.Reset()
	s.updateGaugesLocked()
}

// CurrentLap returns a copy of the records of the lap on screen.
func (s *Session) CurrentLap() []model.ContributionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := lap.Current(s.history, s.table.Size())
	out := make([]model.ContributionRecord, len(cur))
	copy(out, cur)
	return out
}

// History returns a copy of the full history.
func (s *Session) History() []model.ContributionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ContributionRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns the ring entries in render order.
func (s *Session) Snapshot() []model.RingEntry {
	return s.registry.List()
}

// UsedSlots returns the occupied slots in ascending order.
func (s *Session) UsedSlots() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used.Sorted()
}

// Pending returns the in-flight record, if any.
func (s *Session) Pending() (model.ContributionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return model.ContributionRecord{}, false
	}
	return *s.pending, true
}

// Stats summarizes the working set.
type Stats struct {
	GeometryVersion string `json:"geometryVersion"`
	Slots           int    `json:"slots"`
	HistoryLength   int    `json:"historyLength"`
	LapNumber       int    `json:"lapNumber"`
	LapLength       int    `json:"lapLength"`
	RegistrySize    int    `json:"registrySize"`
	RegistryState   string `json:"registryState"`
	UsedSlots       int    `json:"usedSlots"`
	Pending         bool   `json:"pending"`
}

// Stats returns a consistent summary of the working set.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.table.Size()
	return Stats{
		GeometryVersion: s.table.Version(),
		Slots:           n,
		HistoryLength:   len(s.history),
		LapNumber:       lap.Number(len(s.history), n),
		LapLength:       lap.Length(len(s.history), n),
		RegistrySize:    s.registry.Len(),
		RegistryState:   s.registry.State().String(),
		UsedSlots:       s.used.Len(),
		Pending:         s.pending != nil,
	}
}

func (s *Session) appendHistoryLocked(rec model.ContributionRecord) {
	s.index.Add(rec.ID, len(s.history))
	s.history = append(s.history, rec)
}

// pendingShownLocked reports whether the pending record is not yet part of
// the history, i.e. it is drawn as a preview.
func (s *Session) pendingShownLocked() bool {
	return s.pending != nil && !s.index.Has(s.pending.ID)
}

// rebuildLocked derives the registry and used set from history and pending.
func (s *Session) rebuildLocked() error {
	n := s.table.Size()
	current := lap.Current(s.history, n)

	var entries []model.RingEntry
	used := allocator.SlotSet{}
	if s.pendingShownLocked() && lap.Full(len(s.history), n) {
		// The pending record opened a new lap.
		entries = make([]model.RingEntry, 0, 1)
	} else {
		entries = s.projector.ProjectAll(current)
		for _, r := range current {
			used.Add(r.SlotIndex)
		}
	}
	if s.pendingShownLocked() && !used.Has(s.pending.SlotIndex) {
		entries = append(entries, s.projector.Preview(s.pending))
		used.Add(s.pending.SlotIndex)
	}

	if err := s.registry.Rebuild(entries); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	s.used = used
	s.updateGaugesLocked()
	return nil
}

func (s *Session) updateGaugesLocked() {
	metrics.UpdateRegistrySize(s.registry.Len())
	metrics.UpdateUsedSlots(s.used.Len())
	metrics.UpdateLapNumber(lap.Number(len(s.history), s.table.Size()))
}
