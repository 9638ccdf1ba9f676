package ctree

import (
	"cmp"
	"maps"
	"slices"
)

// PairKey identifies an unordered pair of colliders by their entity indices.
type PairKey uint64

// NewPairKey packs a and b in order-independent form.
func NewPairKey(a, b uint32) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey(uint64(a)<<32 | uint64(b))
}

// Split returns the smaller and larger index.
func (k PairKey) Split() (uint32, uint32) {
	return uint32(k >> 32), uint32(k)
}

// ContactPairFlags carries per-pair narrow phase switches.
type ContactPairFlags uint8

const (
	// ContactEventsPairFlag requests start and end contact events.
	ContactEventsPairFlag ContactPairFlags = 1 << iota
	// ModifyContactsPairFlag runs the contact modification hook.
	ModifyContactsPairFlag
	// GenerateConstraintsPairFlag makes the solver resolve the contact.
	GenerateConstraintsPairFlag
)

func (f ContactPairFlags) Has(flag ContactPairFlags) bool { return f&flag == flag }

// ContactPair is a broad phase candidate handed to the narrow phase.
type ContactPair struct {
	Collider1, Collider2 Entity
	Body1, Body2         Entity
	Flags                ContactPairFlags
}

// Key returns the pair key of the two colliders.
func (p *ContactPair) Key() PairKey {
	return NewPairKey(p.Collider1.Index(), p.Collider2.Index())
}

// ContactGraph stores the pairs that persist between steps.
type ContactGraph interface {
	ContainsPair(key PairKey) bool
	AddPair(pair ContactPair)
}

// JointGraph reports whether a joint between two bodies disables their
// collision.
type JointGraph interface {
	CollisionDisabled(body1, body2 Entity) bool
}

// CollisionHooks filters pairs of colliders that opted in with
// FilterPairsHook. Returning false rejects the pair.
type CollisionHooks interface {
	FilterPairs(collider1, collider2 Entity) bool
}

// HookFunc adapts a function to CollisionHooks.
type HookFunc func(collider1, collider2 Entity) bool

func (f HookFunc) FilterPairs(collider1, collider2 Entity) bool { return f(collider1, collider2) }

// PairSet is an in-memory ContactGraph.
type PairSet struct {
	pairs map[PairKey]*ContactPair
}

// NewPairSet returns an empty set.
func NewPairSet() *PairSet {
	return &PairSet{pairs: make(map[PairKey]*ContactPair)}
}

func (s *PairSet) ContainsPair(key PairKey) bool {
	_, ok := s.pairs[key]
	return ok
}

// AddPair stores pair, replacing an existing pair with the same key.
func (s *PairSet) AddPair(pair ContactPair) {
	s.pairs[pair.Key()] = &pair
}

// Pair returns the stored pair for key.
func (s *PairSet) Pair(key PairKey) (*ContactPair, bool) {
	p, ok := s.pairs[key]
	return p, ok
}

func (s *PairSet) Len() int { return len(s.pairs) }

// Each calls fn for every pair in key order until fn returns false.
func (s *PairSet) Each(fn func(*ContactPair) bool) {
	keys := slices.SortedFunc(maps.Keys(s.pairs), cmp.Compare[PairKey])
	for _, k := range keys {
		if !fn(s.pairs[k]) {
			return
		}
	}
}

// RemovePair drops the pair stored under key.
func (s *PairSet) RemovePair(key PairKey) bool {
	if _, ok := s.pairs[key]; !ok {
		return false
	}
	delete(s.pairs, key)
	return true
}

// RemoveCollider drops every pair involving collider and returns how many.
func (s *PairSet) RemoveCollider(collider Entity) int {
	return s.Filter(func(p *ContactPair) bool {
		return p.Collider1 != collider && p.Collider2 != collider
	})
}

// Filter keeps the pairs for which keep returns true and returns how many
// were dropped.
func (s *PairSet) Filter(keep func(*ContactPair) bool) int {
	n := 0
	for k, p := range s.pairs {
		if !keep(p) {
			delete(s.pairs, k)
			n++
		}
	}
	return n
}

// Clear drops every pair.
func (s *PairSet) Clear() { clear(s.pairs) }

// JointSet is an in-memory JointGraph of body pairs whose collision is
// disabled.
type JointSet struct {
	disabled map[PairKey]struct{}
}

func NewJointSet() *JointSet {
	return &JointSet{disabled: make(map[PairKey]struct{})}
}

// DisableCollision stops body1 and body2 from colliding.
func (j *JointSet) DisableCollision(body1, body2 Entity) {
	j.disabled[NewPairKey(body1.Index(), body2.Index())] = struct{}{}
}

// EnableCollision undoes DisableCollision.
func (j *JointSet) EnableCollision(body1, body2 Entity) {
	delete(j.disabled, NewPairKey(body1.Index(), body2.Index()))
}

func (j *JointSet) CollisionDisabled(body1, body2 Entity) bool {
	_, ok := j.disabled[NewPairKey(body1.Index(), body2.Index())]
	return ok
}
