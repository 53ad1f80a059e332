// Package lap reduces the unbounded contribution history to the lap that is
// currently on screen.
package lap

import (
	"fmt"

	"github.com/okian/orbit/internal/domain/model"
)

// Current returns the trailing records that make up the in-progress lap of an
// orbit with size slots.
//
// When the history length is an exact multiple of size the whole last lap is
// returned, not an empty one: a completed orbit stays visible until the next
// contribution starts a new lap. The result shares history's backing array
// and keeps submission order.
func Current(history []model.ContributionRecord, size int) []model.ContributionRecord {
	if size < 1 {
		panic(fmt.Sprintf("lap: orbit size %d", size))
	}
	total := len(history)
	if total <= size {
		return history
	}
	return history[total-Length(total, size):]
}

// Length is len(Current(h, size)) for a history of total records.
func Length(total, size int) int {
	if total <= size {
		return total
	}
	if r := total % size; r != 0 {
		return r
	}
	return size
}

// Number returns the 1-based index of the lap shown for a history of total
// records. An empty history is lap 1.
func Number(total, size int) int {
	if total == 0 {
		return 1
	}
	return (total-1)/size + 1
}

// Full reports whether the shown lap occupies every slot.
func Full(total, size int) bool {
	return total > 0 && Length(total, size) == size
}
