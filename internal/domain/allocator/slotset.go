package allocator

import "sort"

// SlotSet is a set of occupied slot indexes.
type SlotSet map[int]struct{}

// NewSlotSet builds a set from indexes.
func NewSlotSet(indexes ...int) SlotSet {
	s := make(SlotSet, len(indexes))
	for _, i := range indexes {
		s[i] = struct{}{}
	}
	return s
}

// Has reports membership. A nil set is empty.
func (s SlotSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Add inserts i.
func (s SlotSet) Add(i int) { s[i] = struct{}{} }

// Remove deletes i.
func (s SlotSet) Remove(i int) { delete(s, i) }

// Len returns the number of members.
func (s SlotSet) Len() int { return len(s) }

// Clone returns an independent copy.
func (s SlotSet) Clone() SlotSet {
	c := make(SlotSet, len(s))
	for i := range s {
		c[i] = struct{}{}
	}
	return c
}

// Sorted returns the members in ascending order.
func (s SlotSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
