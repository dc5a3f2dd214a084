package matching

import "sort"

// IndexSet is a set of 0-based proposal or ground-truth indices.
type IndexSet map[int]struct{}

// NewIndexSet creates a set holding indices.
func NewIndexSet(indices ...int) IndexSet {
	s := make(IndexSet, len(indices))
	for _, i := range indices {
		s.Add(i)
	}
	return s
}

// Add inserts i into the set.
func (s IndexSet) Add(i int) {
	s[i] = struct{}{}
}

// Has reports whether i is in the set.
func (s IndexSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Len returns the number of indices in the set.
func (s IndexSet) Len() int {
	return len(s)
}

// Sorted returns the indices in ascending order.
func (s IndexSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// IsSupersetOf reports whether every index of other is also in s.
func (s IndexSet) IsSupersetOf(other IndexSet) bool {
	for i := range other {
		if !s.Has(i) {
			return false
		}
	}
	return true
}
