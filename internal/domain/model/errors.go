package model

import "errors"

// Sentinel kinds for record validation.
var (
	ErrInvalidRecord  = errors.New("invalid contribution record")
	ErrSlotOutOfRange = errors.New("slot index out of range")
)
