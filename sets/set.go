// Package sets provides the small generic set the tracker uses for name
// lookups.
package sets

import (
	"sort"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
)

type Set[T comparable] map[T]struct{}

func NewSet[T comparable](vs ...T) Set[T] {
	s := make(Set[T], len(vs))
	s.Insert(vs...)
	return s
}

func (s Set[T]) Insert(vs ...T) {
	for _, v := range vs {
		s[v] = struct{}{}
	}
}

func (s Set[T]) Contains(v T) bool {
	_, exists := s[v]
	return exists
}

func (s Set[T]) Size() int {
	return len(s)
}

func (s Set[T]) AsSlice() []T {
	return maps.Keys(s)
}

// AsSortedSlice returns the elements in their natural order.
func AsSortedSlice[T constraints.Ordered](s Set[T]) []T {
	out := maps.Keys(s)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
