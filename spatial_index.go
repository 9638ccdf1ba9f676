package ctree

import (
	"cmp"
	"math"
	"slices"

	"github.com/setanarut/vec"
)

// SpatialQueryFilter selects which colliders a spatial query may return.
type SpatialQueryFilter struct {
	// Mask must share a bit with a collider's memberships.
	Mask LayerMask
	// Excluded colliders are never returned.
	Excluded map[Entity]struct{}
}

// DefaultSpatialQueryFilter accepts every collider.
func DefaultSpatialQueryFilter() SpatialQueryFilter {
	return SpatialQueryFilter{Mask: AllLayers}
}

// WithMask returns a copy of f with the given mask.
func (f SpatialQueryFilter) WithMask(mask LayerMask) SpatialQueryFilter {
	f.Mask = mask
	return f
}

// WithExcluded returns a copy of f that also excludes entities.
func (f SpatialQueryFilter) WithExcluded(entities ...Entity) SpatialQueryFilter {
	excluded := make(map[Entity]struct{}, len(f.Excluded)+len(entities))
	for e := range f.Excluded {
		excluded[e] = struct{}{}
	}
	for _, e := range entities {
		excluded[e] = struct{}{}
	}
	f.Excluded = excluded
	return f
}

// Test reports whether a collider passes the filter.
func (f SpatialQueryFilter) Test(collider Entity, layers CollisionLayers) bool {
	if f.Mask&layers.Memberships == 0 {
		return false
	}
	_, excluded := f.Excluded[collider]
	return !excluded
}

func (f *SpatialQueryFilter) accepts(p *Proxy) bool {
	return f.Test(p.Collider, p.Layers)
}

// RayHit is a ray query result.
type RayHit struct {
	Collider Entity
	Distance float64
	Point    vec.Vec2
}

// ShapeHit is a shape cast result. Distance is the travel along the cast
// direction before contact, zero when already touching.
type ShapeHit struct {
	Collider Entity
	Distance float64
}

// SpatialQuery runs ray, shape, point and box queries over every collider
// tree. Hit callbacks receive the proxy and compute exact distances; a nil
// callback tests against the proxy's tight AABB.
type SpatialQuery struct {
	trees *ColliderTrees
}

func NewSpatialQuery(trees *ColliderTrees) *SpatialQuery {
	return &SpatialQuery{trees: trees}
}

// CastRay returns the closest collider hit by ray within maxDistance.
// hitFn returns the hit distance, or infinity for a miss.
func (q *SpatialQuery) CastRay(ray Ray, maxDistance float64, filter SpatialQueryFilter, hitFn func(*Proxy) float64) (RayHit, bool) {
	if hitFn == nil {
		hitFn = func(p *Proxy) float64 { return p.AABB.RayQuery(ray, maxDistance) }
	}
	best := RayHit{Collider: NoEntity, Distance: maxDistance}
	found := false
	for _, tree := range q.trees.All() {
		id, d, ok := tree.RayTraverseClosest(ray, best.Distance, func(id ProxyId) float64 {
			p := tree.GetProxyUnchecked(id)
			if !filter.accepts(p) {
				return infinity
			}
			return hitFn(p)
		})
		if ok {
			best = RayHit{Collider: tree.GetProxyUnchecked(id).Collider, Distance: d, Point: ray.At(d)}
			found = true
		}
	}
	return best, found
}

// RayHits returns up to maxHits colliders hit by ray, sorted by distance.
// maxHits <= 0 means no limit.
func (q *SpatialQuery) RayHits(ray Ray, maxDistance float64, maxHits int, filter SpatialQueryFilter, hitFn func(*Proxy) float64) []RayHit {
	if hitFn == nil {
		hitFn = func(p *Proxy) float64 { return p.AABB.RayQuery(ray, maxDistance) }
	}
	var hits []RayHit
	for _, tree := range q.trees.All() {
		tree.RayTraverseAll(ray, maxDistance, func(id ProxyId) bool {
			p := tree.GetProxyUnchecked(id)
			if !filter.accepts(p) {
				return true
			}
			if d := hitFn(p); d < infinity && d <= maxDistance {
				hits = append(hits, RayHit{Collider: p.Collider, Distance: d, Point: ray.At(d)})
			}
			return true
		})
	}
	slices.SortFunc(hits, func(a, b RayHit) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.Collider, b.Collider))
	})
	if maxHits > 0 && len(hits) > maxHits {
		hits = hits[:maxHits]
	}
	return hits
}

// CastShape moves box along direction and returns the first collider it
// comes within targetDistance of. hitFn returns the time of impact, or
// infinity for a miss.
func (q *SpatialQuery) CastShape(box BB, direction vec.Vec2, maxDistance, targetDistance float64, filter SpatialQueryFilter, hitFn func(*Proxy) float64) (ShapeHit, bool) {
	if hitFn == nil {
		sweep := NewSweep(box, direction, targetDistance, maxDistance)
		hitFn = func(p *Proxy) float64 {
			t := p.AABB.SweepQuery(&sweep)
			if t == infinity {
				return t
			}
			return math.Max(t, 0)
		}
	}
	best := ShapeHit{Collider: NoEntity, Distance: maxDistance}
	found := false
	for _, tree := range q.trees.All() {
		id, d, ok := tree.SweepTraverseClosest(box, direction, best.Distance, targetDistance, func(id ProxyId) float64 {
			p := tree.GetProxyUnchecked(id)
			if !filter.accepts(p) {
				return infinity
			}
			return hitFn(p)
		})
		if ok {
			best = ShapeHit{Collider: tree.GetProxyUnchecked(id).Collider, Distance: d}
			found = true
		}
	}
	return best, found
}

// PointIntersections returns the colliders containing p. containsFn refines
// the test; nil tests the tight AABB.
func (q *SpatialQuery) PointIntersections(p vec.Vec2, filter SpatialQueryFilter, containsFn func(*Proxy) bool) []Entity {
	if containsFn == nil {
		containsFn = func(proxy *Proxy) bool { return proxy.AABB.ContainsVect(p) }
	}
	var out []Entity
	for _, tree := range q.trees.All() {
		tree.PointTraverse(p, func(id ProxyId) bool {
			proxy := tree.GetProxyUnchecked(id)
			if filter.accepts(proxy) && containsFn(proxy) {
				out = append(out, proxy.Collider)
			}
			return true
		})
	}
	return out
}

// AABBIntersections returns the colliders whose tight AABB overlaps box.
func (q *SpatialQuery) AABBIntersections(box BB, filter SpatialQueryFilter) []Entity {
	var out []Entity
	for _, tree := range q.trees.All() {
		tree.AABBTraverse(box, func(id ProxyId) bool {
			proxy := tree.GetProxyUnchecked(id)
			if filter.accepts(proxy) && proxy.AABB.Intersects(box) {
				out = append(out, proxy.Collider)
			}
			return true
		})
	}
	return out
}

// Nearest returns the collider closest to p within maxDistance. distFn
// returns the distance to a collider; nil measures to the tight AABB.
func (q *SpatialQuery) Nearest(p vec.Vec2, maxDistance float64, filter SpatialQueryFilter, distFn func(*Proxy) float64) (Entity, float64, bool) {
	if distFn == nil {
		distFn = func(proxy *Proxy) float64 { return math.Sqrt(proxy.AABB.DistanceSqToPoint(p)) }
	}
	best, bestSq, found := NoEntity, maxDistance*maxDistance, false
	for _, tree := range q.trees.All() {
		id, dSq, ok := tree.SquaredDistanceTraverseClosest(p, bestSq, func(id ProxyId) float64 {
			proxy := tree.GetProxyUnchecked(id)
			if !filter.accepts(proxy) {
				return infinity
			}
			d := distFn(proxy)
			return d * d
		})
		if ok {
			best, bestSq, found = tree.GetProxyUnchecked(id).Collider, dSq, true
		}
	}
	if !found {
		return NoEntity, infinity, false
	}
	return best, math.Sqrt(bestSq), true
}
