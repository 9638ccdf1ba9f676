package ctree

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/setanarut/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProxy(collider uint32, bb BB) Proxy {
	return Proxy{
		Collider: NewEntity(collider, 0),
		Body:     NoEntity,
		AABB:     bb,
		Layers:   DefaultCollisionLayers,
	}
}

func collect(fn func(func(ProxyId) bool)) []ProxyId {
	var ids []ProxyId
	fn(func(id ProxyId) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

func TestColliderTreeAABBTraverse(t *testing.T) {
	tree := NewColliderTree()
	boxes := []BB{
		NewBB(0, 0, 1, 1),
		NewBB(5, 5, 6, 6),
		NewBB(0.5, 0, 1.5, 1),
	}
	for i, bb := range boxes {
		id := tree.AddProxy(bb, testProxy(uint32(i), bb))
		assert.Equal(t, ProxyId(i), id)
	}
	require.NoError(t, tree.Validate())

	got := collect(func(fn func(ProxyId) bool) { tree.AABBTraverse(NewBB(0, 0, 2, 2), fn) })
	assert.Equal(t, []ProxyId{0, 2}, got)
}

func TestColliderTreeRemoveThenAddReusesId(t *testing.T) {
	tree := NewColliderTree()
	for i := range 4 {
		bb := NewBB(float64(i), 0, float64(i)+1, 1)
		tree.AddProxy(bb, testProxy(uint32(i), bb))
	}

	p, ok := tree.RemoveProxy(2)
	require.True(t, ok)
	assert.Equal(t, NewEntity(2, 0), p.Collider)
	_, ok = tree.RemoveProxy(2)
	assert.False(t, ok)
	_, ok = tree.GetProxy(2)
	assert.False(t, ok)

	bb := NewBB(10, 10, 11, 11)
	assert.Equal(t, ProxyId(2), tree.AddProxy(bb, testProxy(9, bb)))
	require.NoError(t, tree.Validate())

	got, ok := tree.GetProxy(2)
	require.True(t, ok)
	assert.Equal(t, NewEntity(9, 0), got.Collider)
}

func TestColliderTreeMovedList(t *testing.T) {
	tree := NewColliderTree()
	for i := range 3 {
		bb := NewBB(float64(i), 0, float64(i)+1, 1)
		tree.AddProxy(bb, testProxy(uint32(i), bb))
	}
	assert.Equal(t, []ProxyId{0, 1, 2}, tree.MovedProxies())

	tree.ClearMoved()
	assert.Empty(t, tree.MovedProxies())

	tree.SetProxyAABB(1, NewBB(1, 0, 2, 2))
	tree.ResizeProxyAABB(1, NewBB(1, 0, 2, 3))
	tree.ResizeProxyAABB(0, NewBB(0, 0, 1, 3))
	tree.SetProxyAABB(42, NewBB(0, 0, 1, 1))
	assert.Equal(t, []ProxyId{1, 0}, tree.MovedProxies())

	tree.RemoveProxy(1)
	assert.Equal(t, []ProxyId{0}, tree.MovedProxies())
	require.NoError(t, tree.Validate())
}

func TestColliderTreeReinsertProxy(t *testing.T) {
	tree := NewColliderTree()
	rng := rand.New(rand.NewPCG(21, 22))
	for i := range 50 {
		bb := randomBB(rng, 50, 1)
		tree.AddProxy(bb.Grow(0.1), testProxy(uint32(i), bb))
	}
	tree.ClearMoved()

	target := NewBB(200, 200, 201, 201)
	tree.ReinsertProxy(10, target)
	require.NoError(t, tree.Validate())

	p, _ := tree.GetProxy(10)
	assert.Equal(t, target, p.AABB)
	leaf, _ := tree.LeafBound(10)
	assert.Equal(t, target, leaf)
	assert.Equal(t, []ProxyId{10}, tree.MovedProxies())

	got := collect(func(fn func(ProxyId) bool) { tree.AABBTraverse(NewBB(199, 199, 202, 202), fn) })
	assert.Equal(t, []ProxyId{10}, got)
}

func TestColliderTreeContainment(t *testing.T) {
	tree := NewColliderTree()
	rng := rand.New(rand.NewPCG(23, 24))
	for i := range 300 {
		bb := randomBB(rng, 100, 2)
		tree.AddProxy(bb.Grow(0.05), testProxy(uint32(i), bb))
	}
	require.NoError(t, tree.Validate())

	for i := range 300 {
		if i%3 == 0 {
			tree.RemoveProxy(ProxyId(i))
		}
	}
	tree.RebuildFull()
	require.NoError(t, tree.Validate())

	var moved []ProxyId
	for id, p := range tree.Proxies() {
		if id%5 == 1 {
			p.AABB = randomBB(rng, 100, 2)
			tree.SetProxyAABB(id, p.AABB.Grow(0.05))
			moved = append(moved, id)
		}
	}
	tree.RefitAll()
	tree.RebuildPartial(moved)
	require.NoError(t, tree.Validate())

	tree.Optimize(0.5)
	tree.OptimizeCandidates(moved, 1)
	require.NoError(t, tree.Validate())
	assert.Equal(t, 200, tree.Len())
}

func TestColliderTreeRayTraverseClosest(t *testing.T) {
	tree := NewColliderTree()
	// Unit boxes centered at x = 2, 4, 6 on the x axis.
	for i := range 3 {
		c := vec.Vec2{X: float64(2 * (i + 1))}
		bb := NewBBForExtents(c, 0.5, 0.5)
		tree.AddProxy(bb, testProxy(uint32(i), bb))
	}
	hit := func(id ProxyId) float64 {
		return tree.GetProxyUnchecked(id).AABB.RayQuery(NewRay(vec.Vec2{}, vec.Vec2{X: 1}), 100)
	}

	ray := NewRay(vec.Vec2{}, vec.Vec2{X: 1})
	id, d, ok := tree.RayTraverseClosest(ray, 100, hit)
	require.True(t, ok)
	assert.Equal(t, ProxyId(0), id)
	assert.InDelta(t, 1.5, d, 1e-12)

	back := NewRay(vec.Vec2{X: 10}, vec.Vec2{X: -1})
	id, d, ok = tree.RayTraverseClosest(back, 100, func(id ProxyId) float64 {
		return tree.GetProxyUnchecked(id).AABB.RayQuery(back, 100)
	})
	require.True(t, ok)
	assert.Equal(t, ProxyId(2), id)
	assert.InDelta(t, 3.5, d, 1e-12)

	_, _, ok = tree.RayTraverseClosest(ray, 1, hit)
	assert.False(t, ok)

	up := NewRay(vec.Vec2{}, vec.Vec2{Y: 1})
	_, _, ok = tree.RayTraverseClosest(up, 100, func(id ProxyId) float64 {
		return tree.GetProxyUnchecked(id).AABB.RayQuery(up, 100)
	})
	assert.False(t, ok)
}

func TestColliderTreeRayTraverseAll(t *testing.T) {
	tree := NewColliderTree()
	for i := range 5 {
		c := vec.Vec2{X: float64(2 * (i + 1))}
		bb := NewBBForExtents(c, 0.5, 0.5)
		tree.AddProxy(bb, testProxy(uint32(i), bb))
	}
	ray := NewRay(vec.Vec2{}, vec.Vec2{X: 1})

	got := collect(func(fn func(ProxyId) bool) { tree.RayTraverseAll(ray, 100, fn) })
	assert.Equal(t, []ProxyId{0, 1, 2, 3, 4}, got)

	got = collect(func(fn func(ProxyId) bool) { tree.RayTraverseAll(ray, 5, fn) })
	assert.Equal(t, []ProxyId{0, 1}, got)

	visits := 0
	tree.RayTraverseAll(ray, 100, func(ProxyId) bool {
		visits++
		return visits < 2
	})
	assert.Equal(t, 2, visits)
}

func TestColliderTreeSweepTraverse(t *testing.T) {
	tree := NewColliderTree()
	for i := range 3 {
		c := vec.Vec2{X: float64(3 * (i + 1))}
		bb := NewBBForExtents(c, 0.5, 0.5)
		tree.AddProxy(bb, testProxy(uint32(i), bb))
	}
	box := NewBB(-0.5, -0.5, 0.5, 0.5)
	dir := vec.Vec2{X: 1}
	sweep := NewSweep(box, dir, 0, 100)

	id, d, ok := tree.SweepTraverseClosest(box, dir, 100, 0, func(id ProxyId) float64 {
		return tree.GetProxyUnchecked(id).AABB.SweepQuery(&sweep)
	})
	require.True(t, ok)
	assert.Equal(t, ProxyId(0), id)
	assert.InDelta(t, 2.0, d, 1e-12)

	got := collect(func(fn func(ProxyId) bool) { tree.SweepTraverseAll(box, dir, 6, 0, fn) })
	assert.Equal(t, []ProxyId{0, 1}, got)
}

func TestColliderTreeSquaredDistanceTraverseClosest(t *testing.T) {
	tree := NewColliderTree()
	rng := rand.New(rand.NewPCG(25, 26))
	for i := range 100 {
		bb := randomBB(rng, 100, 1)
		tree.AddProxy(bb, testProxy(uint32(i), bb))
	}
	p := vec.Vec2{X: 50, Y: 50}

	wantSq := infinity
	for _, proxy := range tree.Proxies() {
		wantSq = min(wantSq, proxy.AABB.DistanceSqToPoint(p))
	}

	id, dSq, ok := tree.SquaredDistanceTraverseClosest(p, infinity, func(id ProxyId) float64 {
		return tree.GetProxyUnchecked(id).AABB.DistanceSqToPoint(p)
	})
	require.True(t, ok)
	assert.Equal(t, wantSq, dSq)
	assert.Equal(t, wantSq, tree.GetProxyUnchecked(id).AABB.DistanceSqToPoint(p))

	_, _, ok = tree.SquaredDistanceTraverseClosest(vec.Vec2{X: 1e6, Y: 1e6}, 1, func(id ProxyId) float64 {
		return tree.GetProxyUnchecked(id).AABB.DistanceSqToPoint(p)
	})
	assert.False(t, ok)
}

func TestColliderTreePointTraverse(t *testing.T) {
	tree := NewColliderTree()
	a := NewBB(0, 0, 2, 2)
	b := NewBB(1, 1, 3, 3)
	tree.AddProxy(a, testProxy(0, a))
	tree.AddProxy(b, testProxy(1, b))

	got := collect(func(fn func(ProxyId) bool) { tree.PointTraverse(vec.Vec2{X: 1.5, Y: 1.5}, fn) })
	assert.Equal(t, []ProxyId{0, 1}, got)
	got = collect(func(fn func(ProxyId) bool) { tree.PointTraverse(vec.Vec2{X: 2.5, Y: 2.5}, fn) })
	assert.Equal(t, []ProxyId{1}, got)
	got = collect(func(fn func(ProxyId) bool) { tree.PointTraverse(vec.Vec2{X: 5, Y: 5}, fn) })
	assert.Empty(t, got)
}

func TestColliderTreeEmpty(t *testing.T) {
	tree := NewColliderTree()
	assert.True(t, tree.IsEmpty())
	tree.RebuildFull()
	tree.Optimize(1)
	tree.RefitAll()
	_, _, ok := tree.RayTraverseClosest(NewRay(vec.Vec2{}, vec.Vec2{X: 1}), 10, func(ProxyId) float64 { return 0 })
	assert.False(t, ok)
	assert.Empty(t, collect(func(fn func(ProxyId) bool) { tree.AABBTraverse(NewBB(-1, -1, 1, 1), fn) }))
	require.NoError(t, tree.Validate())
}

func TestColliderTreeClear(t *testing.T) {
	tree := NewColliderTree()
	for i := range 10 {
		bb := NewBB(float64(i), 0, float64(i)+1, 1)
		tree.AddProxy(bb, testProxy(uint32(i), bb))
	}
	tree.Clear()
	assert.Equal(t, 0, tree.Len())
	assert.Empty(t, tree.MovedProxies())
	require.NoError(t, tree.Validate())

	bb := NewBB(0, 0, 1, 1)
	assert.Equal(t, ProxyId(0), tree.AddProxy(bb, testProxy(0, bb)))
	require.NoError(t, tree.Validate())
}

func TestColliderTrees(t *testing.T) {
	trees := NewColliderTrees()
	bb := NewBB(0, 0, 1, 1)
	id := trees.Tree(Static).AddProxy(bb, testProxy(7, bb))
	key := NewProxyKey(id, Static)

	p, ok := trees.Get(key)
	require.True(t, ok)
	assert.Equal(t, NewEntity(7, 0), p.Collider)

	_, ok = trees.Get(NewProxyKey(id, Dynamic))
	assert.False(t, ok)
	_, ok = trees.Get(PlaceholderProxyKey)
	assert.False(t, ok)

	assert.Equal(t, 1, trees.Len())
	var cats []TreeCategory
	for c := range trees.All() {
		cats = append(cats, c)
	}
	assert.Equal(t, TreeCategories[:], cats)

	trees.Clear()
	assert.Equal(t, 0, trees.Len())
}
