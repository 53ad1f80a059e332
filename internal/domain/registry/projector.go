package registry

import (
	"fmt"
	"math"

	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/orbit"
)

// Ring colors use a fixed saturation and lightness; only the hue varies.
const (
	ringSaturation = 0.85
	ringLightness  = 0.60
	defaultScale   = 1.0
)

// Projector derives ring entries from records and the slot table.
type Projector struct {
	table *orbit.Table
	scale float64
}

// NewProjector creates a projector. A non-positive scale falls back to 1.
func NewProjector(table *orbit.Table, scale float64) *Projector {
	if scale <= 0 {
		scale = defaultScale
	}
	return &Projector{table: table, scale: scale}
}

// Table returns the geometry the projector places rings on.
func (p *Projector) Table() *orbit.Table { return p.table }

// Project maps rec onto its slot. The slot index must already be validated;
// an out-of-range index panics in the table lookup.
func (p *Projector) Project(rec *model.ContributionRecord) model.RingEntry {
	slot := p.table.SlotAt(rec.SlotIndex)
	return model.RingEntry{
		ID:        rec.ID,
		SlotIndex: rec.SlotIndex,
		Color:     Color(rec.Hue),
		Rotation:  slot.DefaultRotation,
		Position:  slot.Position,
		Scale:     p.scale,
	}
}

// Preview projects a record that the store has not accepted yet.
func (p *Projector) Preview(rec *model.ContributionRecord) model.RingEntry {
	e := p.Project(rec)
	e.Pending = true
	return e
}

// ProjectAll projects records in order.
func (p *Projector) ProjectAll(records []model.ContributionRecord) []model.RingEntry {
	out := make([]model.RingEntry, len(records))
	for i := range records {
		out[i] = p.Project(&records[i])
	}
	return out
}

// Color renders hue as a #rrggbb string.
func Color(hue float64) string {
	h := math.Mod(hue, 360)
	if h < 0 {
		h += 360
	}
	c := (1 - math.Abs(2*ringLightness-1)) * ringSaturation
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := ringLightness - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return fmt.Sprintf("#%02x%02x%02x", channel(r+m), channel(g+m), channel(b+m))
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
