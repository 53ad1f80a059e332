package registry

import "errors"

// Sentinel kinds for registry mutations.
var (
	ErrFull        = errors.New("registry full")
	ErrDuplicateID = errors.New("ring entry already present")
	ErrNotFound    = errors.New("ring entry not found")
)
