// Package stablevec provides a slice-backed container whose indices stay
// valid across removals.
package stablevec

import (
	"fmt"
	"iter"

	"github.com/bits-and-blooms/bitset"
)

type slot[T any] struct {
	value    T
	occupied bool
}

// StableVec stores values at stable indices.
//
// Push always fills the free slot with the lowest index, so the same sequence
// of pushes and removals yields the same indices on every run.
type StableVec[T any] struct {
	slots []slot[T]
	free  *bitset.BitSet
	count int
}

// New returns an empty StableVec.
func New[T any]() *StableVec[T] {
	return WithCapacity[T](0)
}

// WithCapacity returns an empty StableVec with room for capacity values.
func WithCapacity[T any](capacity int) *StableVec[T] {
	return &StableVec[T]{
		slots: make([]slot[T], 0, capacity),
		free:  bitset.New(uint(capacity)),
	}
}

// Push stores value and returns its index.
func (s *StableVec[T]) Push(value T) int {
	s.lazyInit()
	s.count++
	if i, ok := s.free.NextSet(0); ok && int(i) < len(s.slots) {
		s.free.Clear(i)
		s.slots[i] = slot[T]{value: value, occupied: true}
		return int(i)
	}
	s.slots = append(s.slots, slot[T]{value: value, occupied: true})
	return len(s.slots) - 1
}

// NextPushIndex returns the index the next Push will use.
func (s *StableVec[T]) NextPushIndex() int {
	if s.free != nil {
		if i, ok := s.free.NextSet(0); ok && int(i) < len(s.slots) {
			return int(i)
		}
	}
	return len(s.slots)
}

// TryRemove removes the value at index i. It reports false if the index is
// out of range or the slot is empty.
func (s *StableVec[T]) TryRemove(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(s.slots) || !s.slots[i].occupied {
		return zero, false
	}
	value := s.slots[i].value
	s.slots[i] = slot[T]{}
	s.free.Set(uint(i))
	s.count--
	return value, true
}

// Remove removes and returns the value at index i.
// It panics if there is no value at i.
func (s *StableVec[T]) Remove(i int) T {
	value, ok := s.TryRemove(i)
	if !ok {
		panic(fmt.Sprintf("stablevec: no element at index %d in Remove", i))
	}
	return value
}

// Get returns a pointer to the value at index i.
func (s *StableVec[T]) Get(i int) (*T, bool) {
	if i < 0 || i >= len(s.slots) || !s.slots[i].occupied {
		return nil, false
	}
	return &s.slots[i].value, true
}

// GetUnchecked returns a pointer to the value at index i without checking
// occupancy. The caller must guarantee the slot holds a value; an empty slot
// yields a pointer to a zero value that is not part of the container.
func (s *StableVec[T]) GetUnchecked(i int) *T {
	return &s.slots[i].value
}

// Contains reports whether index i holds a value.
func (s *StableVec[T]) Contains(i int) bool {
	return i >= 0 && i < len(s.slots) && s.slots[i].occupied
}

// Clear removes every value, keeping the allocated capacity.
func (s *StableVec[T]) Clear() {
	clear(s.slots)
	s.slots = s.slots[:0]
	if s.free != nil {
		s.free.ClearAll()
	}
	s.count = 0
}

func (s *StableVec[T]) Len() int { return s.count }

func (s *StableVec[T]) IsEmpty() bool { return s.count == 0 }

// Cap returns the number of slots the container can hold without growing.
func (s *StableVec[T]) Cap() int { return cap(s.slots) }

// Span returns one past the highest index ever occupied since the last Clear.
func (s *StableVec[T]) Span() int { return len(s.slots) }

// All iterates occupied slots in index order.
func (s *StableVec[T]) All() iter.Seq2[int, *T] {
	return func(yield func(int, *T) bool) {
		for i := range s.slots {
			if !s.slots[i].occupied {
				continue
			}
			if !yield(i, &s.slots[i].value) {
				return
			}
		}
	}
}

// Clone returns a shallow copy.
func (s *StableVec[T]) Clone() *StableVec[T] {
	c := &StableVec[T]{
		slots: make([]slot[T], len(s.slots), cap(s.slots)),
		count: s.count,
	}
	copy(c.slots, s.slots)
	if s.free != nil {
		c.free = s.free.Clone()
	} else {
		c.free = bitset.New(0)
	}
	return c
}

// lazyInit makes the zero value usable.
func (s *StableVec[T]) lazyInit() {
	if s.free == nil {
		s.free = bitset.New(uint(cap(s.slots)))
	}
}
