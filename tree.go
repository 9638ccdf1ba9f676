package ctree

import (
	"fmt"
	"iter"

	"github.com/bits-and-blooms/bitset"
	"github.com/setanarut/vec"

	"github.com/setanarut/ctree/utils/stablevec"
)

// ColliderTree is a BVH over the proxies of one tree category.
//
// Mutations are not safe for concurrent use. Traversals may run
// concurrently with each other.
type ColliderTree struct {
	bvh     *BVH
	proxies *stablevec.StableVec[Proxy]

	// moved lists proxies whose bound changed since the last optimization.
	moved     []ProxyId
	movedBits *bitset.BitSet

	// idLimit bounds issued ids from above.
	idLimit ProxyId
}

// NewColliderTree returns an empty tree.
func NewColliderTree() *ColliderTree {
	return &ColliderTree{
		bvh:       NewBVH(),
		proxies:   stablevec.New[Proxy](),
		movedBits: bitset.New(0),
		idLimit:   PlaceholderProxyId,
	}
}

// BVH returns the hierarchy. It is replaced, not mutated, by background
// optimization, so callers must not keep it across a step.
func (t *ColliderTree) BVH() *BVH { return t.bvh }

func (t *ColliderTree) Len() int { return t.proxies.Len() }

func (t *ColliderTree) IsEmpty() bool { return t.proxies.IsEmpty() }

// Capacity returns an upper bound on proxy ids issued so far.
func (t *ColliderTree) Capacity() int { return t.proxies.Span() }

// IsFull reports whether the next AddProxy would need an id that cannot be
// encoded in a ProxyKey.
func (t *ColliderTree) IsFull() bool {
	return t.proxies.NextPushIndex() >= int(t.idLimit)
}

// AddProxy stores p and inserts a leaf with bound bb, which must contain
// p.AABB. The new id is recorded as moved.
func (t *ColliderTree) AddProxy(bb BB, p Proxy) ProxyId {
	id := ProxyId(t.proxies.Push(p))
	t.bvh.Insert(id, bb)
	t.markMoved(id)
	return id
}

// RemoveProxy deletes the proxy and its leaf. Unknown ids report false.
func (t *ColliderTree) RemoveProxy(id ProxyId) (Proxy, bool) {
	p, ok := t.proxies.TryRemove(int(id))
	if !ok {
		return Proxy{}, false
	}
	t.bvh.Remove(id)
	if t.movedBits.Test(uint(id)) {
		t.movedBits.Clear(uint(id))
		for i, m := range t.moved {
			if m == id {
				last := len(t.moved) - 1
				t.moved[i] = t.moved[last]
				t.moved = t.moved[:last]
				break
			}
		}
	}
	return p, true
}

// GetProxy returns the proxy stored under id.
func (t *ColliderTree) GetProxy(id ProxyId) (*Proxy, bool) {
	return t.proxies.Get(int(id))
}

// GetProxyMut is GetProxy. Changing AABB through the pointer does not move
// the leaf; use the AABB setters for that.
func (t *ColliderTree) GetProxyMut(id ProxyId) (*Proxy, bool) {
	return t.proxies.Get(int(id))
}

// GetProxyUnchecked returns the proxy stored under id without checking that
// it exists. The caller must guarantee id is live.
func (t *ColliderTree) GetProxyUnchecked(id ProxyId) *Proxy {
	return t.proxies.GetUnchecked(int(id))
}

// Contains reports whether id is live.
func (t *ColliderTree) Contains(id ProxyId) bool {
	return t.proxies.Contains(int(id))
}

// LeafBound returns the (possibly enlarged) bound of the leaf of id.
func (t *ColliderTree) LeafBound(id ProxyId) (BB, bool) {
	return t.bvh.LeafBound(id)
}

// SetProxyAABB overwrites the leaf bound of id without refitting. Call
// RefitAll once after a batch.
func (t *ColliderTree) SetProxyAABB(id ProxyId, bb BB) {
	if !t.Contains(id) {
		return
	}
	t.bvh.SetLeafBound(id, bb)
	t.markMoved(id)
}

// ResizeProxyAABB overwrites the leaf bound of id and refits its ancestors.
func (t *ColliderTree) ResizeProxyAABB(id ProxyId, bb BB) {
	if !t.Contains(id) {
		return
	}
	t.bvh.Resize(id, bb)
	t.markMoved(id)
}

// ReinsertProxy sets the proxy's tight AABB and leaf bound to bb and moves
// the leaf to the best place for it.
func (t *ColliderTree) ReinsertProxy(id ProxyId, bb BB) {
	p, ok := t.proxies.Get(int(id))
	if !ok {
		return
	}
	p.AABB = bb
	t.bvh.SetLeafBound(id, bb)
	t.bvh.Reinsert(id)
	t.markMoved(id)
}

// RefitAll recomputes every internal bound.
func (t *ColliderTree) RefitAll() { t.bvh.RefitAll() }

// RebuildFull rebuilds the hierarchy from the current leaf bounds.
func (t *ColliderTree) RebuildFull() { t.bvh.RebuildFull() }

// RebuildPartial rebuilds only the paths from the leaves of ids to the root.
func (t *ColliderTree) RebuildPartial(ids []ProxyId) {
	t.bvh.RebuildPartial(ids)
}

// Optimize runs a reinsertion pass over the batchRatio share of nodes with
// the largest bounds.
func (t *ColliderTree) Optimize(batchRatio float64) {
	t.bvh.Optimize(batchRatio)
}

// OptimizeCandidates runs reinsertion passes over the leaves of ids only.
func (t *ColliderTree) OptimizeCandidates(ids []ProxyId, iterations int) {
	t.bvh.OptimizeCandidates(ids, iterations)
}

// MovedProxies returns the ids whose bounds changed since the last
// optimization. The slice is owned by the tree.
func (t *ColliderTree) MovedProxies() []ProxyId { return t.moved }

// ClearMoved empties the moved list.
func (t *ColliderTree) ClearMoved() {
	t.moved = t.moved[:0]
	t.movedBits.ClearAll()
}

// takeMoved hands the moved list to the caller and leaves the tree's empty.
func (t *ColliderTree) takeMoved() []ProxyId {
	moved := t.moved
	t.moved = nil
	t.movedBits.ClearAll()
	return moved
}

func (t *ColliderTree) markMoved(id ProxyId) {
	if t.movedBits.Test(uint(id)) {
		return
	}
	t.movedBits.Set(uint(id))
	t.moved = append(t.moved, id)
}

// Proxies iterates live proxies in id order.
func (t *ColliderTree) Proxies() iter.Seq2[ProxyId, *Proxy] {
	return func(yield func(ProxyId, *Proxy) bool) {
		for i, p := range t.proxies.All() {
			if !yield(ProxyId(i), p) {
				return
			}
		}
	}
}

// Clear removes every proxy.
func (t *ColliderTree) Clear() {
	t.proxies.Clear()
	t.bvh.Clear()
	t.ClearMoved()
}

// Validate checks the hierarchy and that every proxy's AABB lies inside its
// leaf bound.
func (t *ColliderTree) Validate() error {
	if err := t.bvh.Validate(); err != nil {
		return err
	}
	if t.bvh.Len() != t.proxies.Len() {
		return fmt.Errorf("tree has %d leaves for %d proxies", t.bvh.Len(), t.proxies.Len())
	}
	for id, p := range t.Proxies() {
		bb, ok := t.bvh.LeafBound(id)
		if !ok {
			return fmt.Errorf("proxy %d has no leaf", id)
		}
		if !bb.Contains(p.AABB) {
			return fmt.Errorf("proxy %d aabb %v escapes leaf bound %v", id, p.AABB, bb)
		}
	}
	return nil
}

// RayTraverseClosest returns the proxy with the smallest hit distance below
// maxDistance. fn returns the hit distance for a candidate, or a value of at
// least maxDistance for a miss.
func (t *ColliderTree) RayTraverseClosest(ray Ray, maxDistance float64, fn func(ProxyId) float64) (ProxyId, float64, bool) {
	best, bestT, found := PlaceholderProxyId, infinity, false
	t.bvh.traverseRay(ray, maxDistance, func(id ProxyId, tmax *float64) bool {
		if d := fn(id); d < *tmax && d < infinity {
			best, bestT, found = id, d, true
			*tmax = d
		}
		return true
	})
	return best, bestT, found
}

// RayTraverseAll visits every proxy whose leaf bound the ray enters within
// maxDistance. fn returns false to stop.
func (t *ColliderTree) RayTraverseAll(ray Ray, maxDistance float64, fn func(ProxyId) bool) {
	t.bvh.traverseRay(ray, maxDistance, func(id ProxyId, _ *float64) bool {
		return fn(id)
	})
}

// SweepTraverseClosest returns the proxy with the earliest time of impact
// for box moving along direction. Hits within targetDistance of contact
// count.
func (t *ColliderTree) SweepTraverseClosest(box BB, direction vec.Vec2, maxDistance, targetDistance float64, fn func(ProxyId) float64) (ProxyId, float64, bool) {
	sweep := NewSweep(box, direction, targetDistance, maxDistance)
	best, bestT, found := PlaceholderProxyId, infinity, false
	t.bvh.traverseSweep(&sweep, func(id ProxyId, tmax *float64) bool {
		if d := fn(id); d < *tmax && d < infinity {
			best, bestT, found = id, d, true
			*tmax = d
		}
		return true
	})
	return best, bestT, found
}

// SweepTraverseAll visits every proxy whose leaf bound the sweep reaches
// within maxDistance. fn returns false to stop.
func (t *ColliderTree) SweepTraverseAll(box BB, direction vec.Vec2, maxDistance, targetDistance float64, fn func(ProxyId) bool) {
	sweep := NewSweep(box, direction, targetDistance, maxDistance)
	t.bvh.traverseSweep(&sweep, func(id ProxyId, _ *float64) bool {
		return fn(id)
	})
}

// SquaredDistanceTraverseClosest returns the proxy nearest to p. fn returns
// the squared distance to a candidate.
func (t *ColliderTree) SquaredDistanceTraverseClosest(p vec.Vec2, maxDistanceSq float64, fn func(ProxyId) float64) (ProxyId, float64, bool) {
	best, bestSq, found := PlaceholderProxyId, infinity, false
	t.bvh.traverseDistanceSq(p, maxDistanceSq, func(id ProxyId, maxSq *float64) bool {
		if d := fn(id); d < infinity && (d < *maxSq || (!found && d <= *maxSq)) {
			best, bestSq, found = id, d, true
			*maxSq = d
		}
		return true
	})
	return best, bestSq, found
}

// PointTraverse visits every proxy whose leaf bound contains p.
func (t *ColliderTree) PointTraverse(p vec.Vec2, fn func(ProxyId) bool) {
	t.bvh.traversePoint(p, fn)
}

// AABBTraverse visits every proxy whose leaf bound overlaps box.
func (t *ColliderTree) AABBTraverse(box BB, fn func(ProxyId) bool) {
	t.bvh.traverseBB(box, fn)
}
