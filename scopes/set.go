package scopes

import "slices"

// Set is an insertion-ordered set of enum values.
type Set[T ~string] []T

func NewSet[T ~string](values ...T) Set[T] {
	var s Set[T]
	for _, v := range values {
		s = s.Add(v)
	}
	return s
}

func (s Set[T]) Contains(v T) bool {
	return slices.Contains(s, v)
}

// Add returns s with v appended when absent.
func (s Set[T]) Add(v T) Set[T] {
	if s.Contains(v) {
		return s
	}
	return append(slices.Clone(s), v)
}

func (s Set[T]) Remove(v T) Set[T] {
	return slices.DeleteFunc(slices.Clone(s), func(e T) bool { return e == v })
}

func (s Set[T]) Union(other Set[T]) Set[T] {
	out := slices.Clone(s)
	for _, v := range other {
		if !out.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Difference returns the members of s that are not in other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	var out Set[T]
	for _, v := range s {
		if !other.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s Set[T]) Intersect(other Set[T]) Set[T] {
	var out Set[T]
	for _, v := range s {
		if other.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s Set[T]) ContainsAll(other Set[T]) bool {
	for _, v := range other {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

func (s Set[T]) Empty() bool {
	return len(s) == 0
}

// Sorted returns a lexically ordered copy, used for storage and comparisons.
func (s Set[T]) Sorted() Set[T] {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

func (s Set[T]) Strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

func FromStrings[T ~string](values []string) Set[T] {
	var s Set[T]
	for _, v := range values {
		s = s.Add(T(v))
	}
	return s
}
