package repository

import "errors"

// Sentinel kinds for record store errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrSlotTaken   = errors.New("slot already taken in current lap")
	ErrDuplicateID = errors.New("record id already stored")
)
