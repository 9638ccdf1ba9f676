package ctree

import (
	"fmt"
	"math"

	"github.com/setanarut/vec"
)

const (
	infinity     float64 = math.MaxFloat64
	magicEpsilon float64 = 1e-5
)

// BB is an axis-aligned 2D bounding box. (left, bottom, right, top)
type BB struct {
	L, B, R, T float64
}

// NewBB is convenience constructor for BB structs.
func NewBB(l, b, r, t float64) BB {
	return BB{
		L: l,
		B: b,
		R: r,
		T: t,
	}
}

func (bb BB) String() string {
	return fmt.Sprintf("%v %v %v %v", bb.L, bb.B, bb.R, bb.T)
}

// NewBBForExtents constructs a BB centered on a point with the given extents (half sizes).
func NewBBForExtents(c vec.Vec2, hw, hh float64) BB {
	return BB{
		L: c.X - hw,
		B: c.Y - hh,
		R: c.X + hw,
		T: c.Y + hh,
	}
}

// NewBBForPoints returns the smallest box holding both points.
func NewBBForPoints(a, b vec.Vec2) BB {
	return BB{
		math.Min(a.X, b.X),
		math.Min(a.Y, b.Y),
		math.Max(a.X, b.X),
		math.Max(a.Y, b.Y),
	}
}

// IsValid returns false for NaN or inverted extents.
func (bb BB) IsValid() bool {
	return bb.L <= bb.R && bb.B <= bb.T
}

// Intersects returns true if a and b intersect.
func (bb BB) Intersects(b BB) bool {
	return bb.L <= b.R && b.L <= bb.R && bb.B <= b.T && b.B <= bb.T
}

// Contains returns true if other lies completely within bb.
func (bb BB) Contains(other BB) bool {
	return bb.L <= other.L && bb.R >= other.R && bb.B <= other.B && bb.T >= other.T
}

// ContainsVect returns true if bb contains v.
func (bb BB) ContainsVect(v vec.Vec2) bool {
	return bb.L <= v.X && bb.R >= v.X && bb.B <= v.Y && bb.T >= v.Y
}

// Merge returns a bounding box that holds both bounding boxes.
func (a BB) Merge(b BB) BB {
	return BB{
		math.Min(a.L, b.L),
		math.Min(a.B, b.B),
		math.Max(a.R, b.R),
		math.Max(a.T, b.T),
	}
}

// Expand returns a bounding box that holds both bb and v.
func (bb BB) Expand(v vec.Vec2) BB {
	return BB{
		math.Min(bb.L, v.X),
		math.Min(bb.B, v.Y),
		math.Max(bb.R, v.X),
		math.Max(bb.T, v.Y),
	}
}

// Grow returns bb enlarged by margin on every side.
func (bb BB) Grow(margin float64) BB {
	return BB{bb.L - margin, bb.B - margin, bb.R + margin, bb.T + margin}
}

// Center returns the center of a bounding box.
func (bb BB) Center() vec.Vec2 {
	return vec.Vec2{X: (bb.L + bb.R) * 0.5, Y: (bb.B + bb.T) * 0.5}
}

// Extents returns the half sizes of the box.
func (bb BB) Extents() vec.Vec2 {
	return vec.Vec2{X: (bb.R - bb.L) * 0.5, Y: (bb.T - bb.B) * 0.5}
}

// Area returns the area of the bounding box.
func (bb BB) Area() float64 {
	return (bb.R - bb.L) * (bb.T - bb.B)
}

// MergedArea merges a and b and returns the area of the merged bounding box.
func (a BB) MergedArea(b BB) float64 {
	return (math.Max(a.R, b.R) - math.Min(a.L, b.L)) * (math.Max(a.T, b.T) - math.Min(a.B, b.B))
}

// Perimeter is the 2D surface area heuristic cost of a box.
func (bb BB) Perimeter() float64 {
	return 2 * ((bb.R - bb.L) + (bb.T - bb.B))
}

// MergedPerimeter returns the perimeter of a merged with b.
func (a BB) MergedPerimeter(b BB) float64 {
	return 2 * ((math.Max(a.R, b.R) - math.Min(a.L, b.L)) + (math.Max(a.T, b.T) - math.Min(a.B, b.B)))
}

// DistanceSqToPoint returns the squared distance from p to the box, zero inside.
func (bb BB) DistanceSqToPoint(p vec.Vec2) float64 {
	dx := math.Max(math.Max(bb.L-p.X, 0), p.X-bb.R)
	dy := math.Max(math.Max(bb.B-p.Y, 0), p.Y-bb.T)
	return dx*dx + dy*dy
}

// SegmentQuery returns the fraction along the segment query the BB is hit.
// Returns infinity if it doesn't hit.
func (bb BB) SegmentQuery(a, b vec.Vec2) float64 {
	return slab(bb, a, b.Sub(a), 0, 1)
}

// IntersectsSegment returns true if the bounding box intersects the line segment with ends a and b.
func (bb BB) IntersectsSegment(a, b vec.Vec2) bool {
	return bb.SegmentQuery(a, b) != infinity
}

// RayQuery returns the distance along ray at which it enters bb, zero if the
// origin is inside. Returns infinity if there is no hit within maxDistance.
func (bb BB) RayQuery(ray Ray, maxDistance float64) float64 {
	return slab(bb, ray.Origin, ray.Direction, 0, maxDistance)
}

// slab clips the parametric line o + t*d against bb and returns the entry
// parameter clamped to tmin, or infinity if the clipped range is empty.
func slab(bb BB, o, d vec.Vec2, tmin, tmax float64) float64 {
	if d.X == 0 {
		if o.X < bb.L || bb.R < o.X {
			return infinity
		}
	} else {
		t1 := (bb.L - o.X) / d.X
		t2 := (bb.R - o.X) / d.X
		tmin = math.Max(tmin, math.Min(t1, t2))
		tmax = math.Min(tmax, math.Max(t1, t2))
	}

	if d.Y == 0 {
		if o.Y < bb.B || bb.T < o.Y {
			return infinity
		}
	} else {
		t1 := (bb.B - o.Y) / d.Y
		t2 := (bb.T - o.Y) / d.Y
		tmin = math.Max(tmin, math.Min(t1, t2))
		tmax = math.Min(tmax, math.Max(t1, t2))
	}

	if tmin <= tmax {
		return tmin
	}
	return infinity
}

// SweepQuery returns the time of impact of s against bb, or infinity when
// they never get within the sweep's target distance. The result is negative
// when the boxes already overlap.
func (bb BB) SweepQuery(s *Sweep) float64 {
	c := s.Box.Center()
	e := s.Box.Extents()
	mx := e.X + s.TargetDistance
	my := e.Y + s.TargetDistance

	// Minkowski sum of bb and the swept box, moved so the swept box sits at the origin.
	l := bb.L - c.X - mx
	r := bb.R - c.X + mx
	b := bb.B - c.Y - my
	t := bb.T - c.Y + my

	t1x, t2x := l*s.invVelocity.X, r*s.invVelocity.X
	t1y, t2y := b*s.invVelocity.Y, t*s.invVelocity.Y

	tmin := math.Max(math.Min(t1x, t2x), math.Min(t1y, t2y))
	tmax := math.Min(math.Max(t1x, t2x), math.Max(t1y, t2y))

	if tmax >= tmin && tmax >= 0 {
		return tmin
	}
	return infinity
}

// Offset returns a bounding box offseted by v.
func (bb BB) Offset(v vec.Vec2) BB {
	return BB{
		bb.L + v.X,
		bb.B + v.Y,
		bb.R + v.X,
		bb.T + v.Y,
	}
}

// Proximity is the Manhattan distance between the box centers, times two.
func (a BB) Proximity(b BB) float64 {
	return math.Abs(a.L+a.R-b.L-b.R) + math.Abs(a.B+a.T-b.B-b.T)
}

// Ray is a half line. Direction is expected to be normalized so that hit
// distances are in world units.
type Ray struct {
	Origin    vec.Vec2
	Direction vec.Vec2
}

// NewRay is a convenience constructor.
func NewRay(origin, direction vec.Vec2) Ray {
	return Ray{origin, direction}
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) vec.Vec2 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// Sweep is a box moving along a velocity.
type Sweep struct {
	Box      BB
	Velocity vec.Vec2
	// Hits closer than this separation still count.
	TargetDistance float64
	MaxDistance    float64

	invVelocity vec.Vec2
}

// NewSweep builds a sweep of box along velocity.
func NewSweep(box BB, velocity vec.Vec2, targetDistance, maxDistance float64) Sweep {
	return Sweep{
		Box:            box,
		Velocity:       velocity,
		TargetDistance: targetDistance,
		MaxDistance:    maxDistance,
		invVelocity:    vec.Vec2{X: safeInverse(velocity.X), Y: safeInverse(velocity.Y)},
	}
}

// safeInverse avoids infinities so that 0*inverse never produces NaN.
func safeInverse(x float64) float64 {
	if math.Abs(x) <= magicEpsilon*magicEpsilon {
		return math.Copysign(infinity, x)
	}
	return 1 / x
}
