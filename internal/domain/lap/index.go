package lap

import "github.com/okian/orbit/internal/domain/model"

// Index looks records up by identity on top of an ordered history.
type Index struct {
	positions map[string]int
}

// NewIndex indexes history by record id. On duplicate ids the first
// occurrence wins, matching replay order.
func NewIndex(history []model.ContributionRecord) *Index {
	idx := &Index{positions: make(map[string]int, len(history))}
	for i := range history {
		idx.Add(history[i].ID, i)
	}
	return idx
}

// Add records that id sits at position. Existing ids are kept.
func (x *Index) Add(id string, position int) {
	if _, ok := x.positions[id]; !ok {
		x.positions[id] = position
	}
}

// Position returns where id sits in the history.
func (x *Index) Position(id string) (int, bool) {
	p, ok := x.positions[id]
	return p, ok
}

// Has reports whether id is in the history.
func (x *Index) Has(id string) bool {
	_, ok := x.positions[id]
	return ok
}

// Len returns the number of distinct ids.
func (x *Index) Len() int { return len(x.positions) }
