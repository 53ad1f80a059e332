package allocator

import "errors"

// ErrExhausted reports that every slot of the orbit is occupied.
var ErrExhausted = errors.New("orbit slots exhausted")
