package model

// Vec2 is a pair of floats used for positions and rotations.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// SlotDescriptor is one fixed position in the orbit.
type SlotDescriptor struct {
	Index           int  `json:"index" yaml:"index"`
	Position        Vec2 `json:"position" yaml:"position"`
	DefaultRotation Vec2 `json:"defaultRotation" yaml:"rotation"`
}

// RingEntry is what the renderer draws. It is derived from a record and the
// descriptor of the record's slot.
type RingEntry struct {
	ID        string  `json:"id"`
	SlotIndex int     `json:"slotIndex"`
	Color     string  `json:"color"`
	Rotation  Vec2    `json:"rotation"`
	Position  Vec2    `json:"position"`
	Scale     float64 `json:"scale"`
	// Pending marks an optimistic preview not yet accepted by the store.
	Pending bool `json:"pending,omitempty"`
}
