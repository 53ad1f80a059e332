package session

import "errors"

// Sentinel kinds for working-set mutations.
var (
	// ErrInvariantViolation marks data that breaks the orbit invariants:
	// a repeated slot inside one lap, a repeated record id, or a slot index
	// outside the geometry table.
	ErrInvariantViolation = errors.New("orbit invariant violated")
	// ErrDuplicateSlot rejects a delta whose slot is already taken in the
	// current lap. The next bootstrap corrects the local view.
	ErrDuplicateSlot = errors.New("slot already taken in current lap")
	// ErrAlreadyApplied marks a delta whose record is already in the history.
	ErrAlreadyApplied = errors.New("record already applied")
	// ErrNoPending is returned when confirming or retracting without a
	// matching pending record.
	ErrNoPending = errors.New("no pending contribution")
	// ErrPendingExists is returned when a second contribution is started
	// before the first one resolved.
	ErrPendingExists = errors.New("contribution already pending")
)
