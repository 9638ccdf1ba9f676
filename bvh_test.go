package ctree

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/setanarut/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBB(rng *rand.Rand, world, size float64) BB {
	c := vec.Vec2{X: rng.Float64() * world, Y: rng.Float64() * world}
	return NewBBForExtents(c, 0.1+rng.Float64()*size, 0.1+rng.Float64()*size)
}

func randomBVH(t *testing.T, rng *rand.Rand, n int) *BVH {
	t.Helper()
	bvh := NewBVH()
	for i := range n {
		bvh.Insert(ProxyId(i), randomBB(rng, 100, 2))
	}
	require.NoError(t, bvh.Validate())
	return bvh
}

func leafIds(bvh *BVH) []ProxyId {
	var ids []ProxyId
	bvh.traverseBB(NewBB(-1e9, -1e9, 1e9, 1e9), func(id ProxyId) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

func sequence(n int) []ProxyId {
	ids := make([]ProxyId, n)
	for i := range ids {
		ids[i] = ProxyId(i)
	}
	return ids
}

func TestBVHInsertRemove(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	bvh := randomBVH(t, rng, 200)
	assert.Equal(t, 200, bvh.Len())
	assert.Equal(t, sequence(200), leafIds(bvh))

	for i := 0; i < 200; i += 2 {
		require.True(t, bvh.Remove(ProxyId(i)))
	}
	assert.False(t, bvh.Remove(0))
	assert.False(t, bvh.Remove(10_000))
	require.NoError(t, bvh.Validate())
	assert.Equal(t, 100, bvh.Len())

	for i := 0; i < 200; i += 2 {
		_, ok := bvh.LeafBound(ProxyId(i))
		assert.False(t, ok)
	}

	for i := 0; i < 200; i += 2 {
		bvh.Insert(ProxyId(i), randomBB(rng, 100, 2))
	}
	require.NoError(t, bvh.Validate())
	assert.Equal(t, sequence(200), leafIds(bvh))
}

func TestBVHBalanced(t *testing.T) {
	bvh := NewBVH()
	// Sorted input is the worst case for an unbalanced insert.
	for i := range 1024 {
		x := float64(i)
		bvh.Insert(ProxyId(i), NewBB(x, 0, x+0.5, 0.5))
	}
	require.NoError(t, bvh.Validate())
	assert.Less(t, bvh.Height(), 40)
}

func TestBVHInsertTwicePanics(t *testing.T) {
	bvh := NewBVH()
	bvh.Insert(3, NewBB(0, 0, 1, 1))
	assert.Panics(t, func() { bvh.Insert(3, NewBB(0, 0, 1, 1)) })
}

func TestBVHRemoveToEmpty(t *testing.T) {
	bvh := NewBVH()
	bvh.Insert(0, NewBB(0, 0, 1, 1))
	bvh.Insert(1, NewBB(2, 0, 3, 1))
	require.True(t, bvh.Remove(0))
	require.True(t, bvh.Remove(1))
	require.NoError(t, bvh.Validate())
	assert.Equal(t, 0, bvh.Len())
	_, ok := bvh.Bounds()
	assert.False(t, ok)

	bvh.Insert(0, NewBB(0, 0, 1, 1))
	require.NoError(t, bvh.Validate())
	assert.Equal(t, 0, bvh.Height())
}

func TestBVHResizeAndRefit(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	bvh := randomBVH(t, rng, 100)

	bvh.Resize(7, NewBB(500, 500, 501, 501))
	require.NoError(t, bvh.Validate())
	root, _ := bvh.Bounds()
	assert.True(t, root.Contains(NewBB(500, 500, 501, 501)))

	for i := range 50 {
		bvh.SetLeafBound(ProxyId(i), randomBB(rng, 300, 2))
	}
	bvh.RefitAll()
	require.NoError(t, bvh.Validate())
}

func TestBVHRebuildFull(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	bvh := randomBVH(t, rng, 500)
	before := make(map[ProxyId]BB)
	for i := range 500 {
		before[ProxyId(i)], _ = bvh.LeafBound(ProxyId(i))
	}

	bvh.RebuildFull()
	require.NoError(t, bvh.Validate())
	assert.Equal(t, sequence(500), leafIds(bvh))
	for id, bb := range before {
		got, ok := bvh.LeafBound(id)
		require.True(t, ok)
		assert.Equal(t, bb, got)
	}
}

func TestBVHRebuildFullSmall(t *testing.T) {
	bvh := NewBVH()
	bvh.RebuildFull()
	require.NoError(t, bvh.Validate())

	bvh.Insert(0, NewBB(0, 0, 1, 1))
	bvh.RebuildFull()
	require.NoError(t, bvh.Validate())

	// Identical boxes give every pair the same merge cost.
	for i := 1; i < 20; i++ {
		bvh.Insert(ProxyId(i), NewBB(0, 0, 1, 1))
	}
	bvh.RebuildFull()
	require.NoError(t, bvh.Validate())
	assert.Equal(t, sequence(20), leafIds(bvh))
}

func TestBVHRebuildPartial(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	bvh := randomBVH(t, rng, 300)

	var moved []ProxyId
	for i := 0; i < 300; i += 7 {
		bvh.SetLeafBound(ProxyId(i), randomBB(rng, 100, 2))
		moved = append(moved, ProxyId(i))
	}
	bvh.RefitAll()

	bvh.RebuildPartial(moved)
	require.NoError(t, bvh.Validate())
	assert.Equal(t, sequence(300), leafIds(bvh))

	// Seeding with every leaf is a full rebuild.
	bvh.RebuildPartial(sequence(300))
	require.NoError(t, bvh.Validate())
	assert.Equal(t, sequence(300), leafIds(bvh))
}

func TestBVHOptimizeNeverIncreasesCost(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	bvh := randomBVH(t, rng, 400)

	// Scramble without rebalancing so there is something to improve.
	for i := range 400 {
		bvh.SetLeafBound(ProxyId(i), randomBB(rng, 100, 2))
	}
	bvh.RefitAll()
	require.NoError(t, bvh.Validate())

	cost := bvh.Cost()
	for range 5 {
		bvh.Optimize(0.25)
		require.NoError(t, bvh.Validate())
		next := bvh.Cost()
		assert.LessOrEqual(t, next, cost+1e-9)
		cost = next
	}
	assert.Equal(t, sequence(400), leafIds(bvh))
}

func TestBVHOptimizeCandidates(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	bvh := randomBVH(t, rng, 200)

	moved := []ProxyId{1, 5, 9, 100, 150}
	for _, id := range moved {
		bvh.SetLeafBound(id, randomBB(rng, 100, 2))
	}
	bvh.RefitAll()

	cost := bvh.Cost()
	bvh.OptimizeCandidates(moved, 2)
	require.NoError(t, bvh.Validate())
	assert.LessOrEqual(t, bvh.Cost(), cost+1e-9)
	assert.Equal(t, sequence(200), leafIds(bvh))
}

func TestBVHOptimizeTrivial(t *testing.T) {
	bvh := NewBVH()
	assert.Equal(t, 0, bvh.Optimize(1))
	bvh.Insert(0, NewBB(0, 0, 1, 1))
	assert.Equal(t, 0, bvh.Optimize(1))
	bvh.Insert(1, NewBB(2, 0, 3, 1))
	assert.Equal(t, 0, bvh.Optimize(0))
	bvh.Optimize(1)
	require.NoError(t, bvh.Validate())
}

func TestBVHClone(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	bvh := randomBVH(t, rng, 100)
	clone := bvh.Clone()

	clone.RebuildFull()
	clone.Remove(4)
	require.NoError(t, clone.Validate())
	require.NoError(t, bvh.Validate())

	assert.Equal(t, 100, bvh.Len())
	assert.Equal(t, 99, clone.Len())
	_, ok := bvh.LeafBound(4)
	assert.True(t, ok)
}
