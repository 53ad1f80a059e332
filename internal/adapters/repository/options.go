package repository

import (
	"github.com/okian/orbit/internal/domain/orbit"
)

const defaultSlots = 70

type settings struct {
	slots int
}

// Option configures a Store.
type Option func(*settings)

// WithSlots sets the orbit size used for the current-lap rule.
func WithSlots(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.slots = n
		}
	}
}

// WithTable takes the orbit size from a geometry table.
func WithTable(t *orbit.Table) Option {
	return func(s *settings) {
		if t != nil {
			s.slots = t.Size()
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{slots: defaultSlots}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
