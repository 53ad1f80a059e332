package orbit

import "errors"

// Sentinel kinds for geometry loading.
var (
	ErrInvalidTable   = errors.New("invalid orbit table")
	ErrUnknownVersion = errors.New("unknown orbit table version")
)
