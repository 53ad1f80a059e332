// Package repository persists contribution records for the reference store.
//
// A store keeps the full history in creation order and enforces the one rule
// that makes slot races visible to clients: a record may not take a slot
// already used in the current lap. Once a lap is complete the next record
// opens a new one and every slot is free again.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/orbit/internal/domain/lap"
	"github.com/okian/orbit/internal/domain/model"
)

// Store provides read/write access to the contribution history.
type Store interface {
	// Insert appends rec to the history and returns it as stored. It returns
	// ErrDuplicateID when the id exists and ErrSlotTaken when the slot is
	// used in the current lap.
	Insert(ctx context.Context, rec model.ContributionRecord) (model.ContributionRecord, error)

	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id string) (model.ContributionRecord, error)

	// List returns the full history in creation order.
	List(ctx context.Context) ([]model.ContributionRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Reset deletes every record.
	Reset(ctx context.Context) error

	Close() error
}

// checkSlot applies the current-lap rule for an orbit of size slots given
// the history length and the slots of the current lap.
func checkSlot(total, size int, lapSlots []int, slot int) error {
	if slot < 0 || slot >= size {
		return fmt.Errorf("%w: slotIndex %d not in [0,%d)", model.ErrSlotOutOfRange, slot, size)
	}
	if lap.Full(total, size) {
		return nil
	}
	for _, s := range lapSlots {
		if s == slot {
			return fmt.Errorf("%w: %d", ErrSlotTaken, slot)
		}
	}
	return nil
}
