package ctree

import (
	"cmp"
	"math"
	"slices"

	"github.com/bits-and-blooms/bitset"
)

// plocSearchRadius is how many neighbours on each side of a cluster, in
// Morton order, are considered when looking for its nearest neighbour.
const plocSearchRadius = 8

// buildWorkspace holds scratch buffers reused across rebuilds and
// optimization passes. It is never shared between BVH clones.
type buildWorkspace struct {
	items      []int32
	next       []int32
	nearest    []int32
	keyed      []mortonItem
	stack      []int32
	costStack  []costEntry
	candidates []int32
	pathFlags  *bitset.BitSet
}

type mortonItem struct {
	code uint64
	node int32
}

// RebuildFull discards every internal node and clusters the leaves again.
func (t *BVH) RebuildFull() {
	if t.root == nullNode {
		return
	}
	w := &t.work
	items := w.items[:0]
	stack := append(w.stack[:0], t.root)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.nodes[i]
		if n.isLeaf() {
			items = append(items, i)
			continue
		}
		stack = append(stack, n.child1, n.child2)
		t.freeNode(i)
	}
	w.stack = stack
	t.root = t.cluster(items)
}

// RebuildPartial rebuilds the part of the tree above the leaves of ids.
// Every node on a path from such a leaf to the root is discarded; the
// untouched subtrees hanging off those paths, and the leaves themselves,
// are clustered again. Unknown ids are ignored.
func (t *BVH) RebuildPartial(ids []ProxyId) {
	t.rebuildPartial(t.leafNodes(ids))
}

func (t *BVH) rebuildPartial(seedLeaves []int32) {
	if t.root == nullNode || t.nodes[t.root].isLeaf() || len(seedLeaves) == 0 {
		return
	}
	w := &t.work
	if w.pathFlags == nil {
		w.pathFlags = bitset.New(uint(len(t.nodes)))
	} else {
		w.pathFlags.ClearAll()
	}
	flags := w.pathFlags

	for _, leaf := range seedLeaves {
		for i := leaf; i != nullNode && !flags.Test(uint(i)); i = t.nodes[i].parent {
			flags.Set(uint(i))
		}
	}

	items := w.items[:0]
	stack := append(w.stack[:0], t.root)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.nodes[i]
		for _, c := range [2]int32{n.child1, n.child2} {
			if flags.Test(uint(c)) && !t.nodes[c].isLeaf() {
				stack = append(stack, c)
			} else {
				items = append(items, c)
			}
		}
		t.freeNode(i)
	}
	w.stack = stack
	t.root = t.cluster(items)
}

// cluster builds a subtree over items with locally-ordered clustering and
// returns its root. items is consumed.
func (t *BVH) cluster(items []int32) int32 {
	w := &t.work
	switch len(items) {
	case 0:
		w.items = items
		return nullNode
	case 1:
		t.nodes[items[0]].parent = nullNode
		w.items = items
		return items[0]
	}

	t.sortByMorton(items)

	for len(items) > 1 {
		n := len(items)
		w.nearest = slices.Grow(w.nearest[:0], n)[:n]
		for i := range n {
			bb := t.nodes[items[i]].bb
			best, bestCost := int32(-1), infinity
			for j := max(0, i-plocSearchRadius); j <= min(n-1, i+plocSearchRadius); j++ {
				if j == i {
					continue
				}
				if c := bb.MergedPerimeter(t.nodes[items[j]].bb); c < bestCost {
					best, bestCost = int32(j), c
				}
			}
			if best < 0 {
				best = int32(max(i-1, 0))
				if best == int32(i) {
					best = int32(i + 1)
				}
			}
			w.nearest[i] = best
		}

		merged := w.next[:0]
		for i := range n {
			j := w.nearest[i]
			if w.nearest[j] == int32(i) {
				if int32(i) < j {
					merged = append(merged, t.newParent(items[i], items[j]))
				}
				continue
			}
			merged = append(merged, items[i])
		}
		if len(merged) == n {
			// Ties left no mutual pair; merge the first two to make progress.
			merged = append(merged[:0], t.newParent(items[0], items[1]))
			merged = append(merged, items[2:]...)
		}
		w.next, items = items, merged
	}

	root := items[0]
	t.nodes[root].parent = nullNode
	w.items = items
	return root
}

func (t *BVH) newParent(a, b int32) int32 {
	p := t.allocateNode()
	n := &t.nodes[p]
	n.child1 = a
	n.child2 = b
	n.bb = t.nodes[a].bb.Merge(t.nodes[b].bb)
	n.height = 1 + max(t.nodes[a].height, t.nodes[b].height)
	t.nodes[a].parent = p
	t.nodes[b].parent = p
	return p
}

// sortByMorton orders items along a Z-order curve through their centers.
func (t *BVH) sortByMorton(items []int32) {
	w := &t.work
	bounds := t.nodes[items[0]].bb.Center()
	lo, hi := bounds, bounds
	for _, i := range items[1:] {
		c := t.nodes[i].bb.Center()
		lo.X, lo.Y = math.Min(lo.X, c.X), math.Min(lo.Y, c.Y)
		hi.X, hi.Y = math.Max(hi.X, c.X), math.Max(hi.Y, c.Y)
	}
	sx := quantizeScale(hi.X - lo.X)
	sy := quantizeScale(hi.Y - lo.Y)

	keyed := w.keyed[:0]
	for _, i := range items {
		c := t.nodes[i].bb.Center()
		x := quantize(c.X-lo.X, sx)
		y := quantize(c.Y-lo.Y, sy)
		keyed = append(keyed, mortonItem{code: spreadBits(x) | spreadBits(y)<<1, node: i})
	}
	slices.SortFunc(keyed, func(a, b mortonItem) int {
		return cmp.Or(cmp.Compare(a.code, b.code), cmp.Compare(a.node, b.node))
	})
	for k := range keyed {
		items[k] = keyed[k].node
	}
	w.keyed = keyed
}

func quantizeScale(extent float64) float64 {
	if extent <= 0 {
		return 0
	}
	return float64(math.MaxUint32) / extent
}

func quantize(offset, scale float64) uint32 {
	return uint32(math.Min(offset*scale, math.MaxUint32))
}

// spreadBits interleaves zeros between the bits of x.
func spreadBits(x uint32) uint64 {
	v := uint64(x)
	v = (v | v<<16) & 0x0000FFFF0000FFFF
	v = (v | v<<8) & 0x00FF00FF00FF00FF
	v = (v | v<<4) & 0x0F0F0F0F0F0F0F0F
	v = (v | v<<2) & 0x3333333333333333
	v = (v | v<<1) & 0x5555555555555555
	return v
}
