package ctree

import (
	"github.com/setanarut/vec"
)

// Leaf visitors receive the proxy id of a leaf whose bound passed the node
// test. Returning false stops the traversal.
//
// The closest-hit visitors also receive the current best distance, which
// they may lower to tighten pruning.

type stackEntry struct {
	node int32
	t    float64
}

const traversalStackSize = 64

// traverseRay visits leaves whose bound the ray enters before *tmax, nearest
// first. Subtrees entered at or beyond *tmax are skipped.
func (t *BVH) traverseRay(ray Ray, tmax float64, visit func(id ProxyId, tmax *float64) bool) {
	if t.root == nullNode {
		return
	}
	t.traverseOrdered(&tmax,
		func(bb BB, limit float64) float64 { return bb.RayQuery(ray, limit) },
		func(d, limit float64) bool { return d != infinity && d <= limit },
		visit)
}

// traverseSweep visits leaves the sweep reaches before *tmax.
func (t *BVH) traverseSweep(sweep *Sweep, visit func(id ProxyId, tmax *float64) bool) {
	if t.root == nullNode {
		return
	}
	tmax := sweep.MaxDistance
	t.traverseOrdered(&tmax,
		func(bb BB, _ float64) float64 { return bb.SweepQuery(sweep) },
		func(d, limit float64) bool { return d < limit },
		visit)
}

// traverseDistanceSq visits leaves within *maxSq squared distance of p,
// nearest first.
func (t *BVH) traverseDistanceSq(p vec.Vec2, maxSq float64, visit func(id ProxyId, maxSq *float64) bool) {
	if t.root == nullNode {
		return
	}
	t.traverseOrdered(&maxSq,
		func(bb BB, _ float64) float64 { return bb.DistanceSqToPoint(p) },
		func(d, limit float64) bool { return d <= limit },
		visit)
}

// traverseOrdered is the shared near-to-far stack walk. measure returns a
// lower bound for every leaf under a node; within tells whether that bound
// can still beat the current limit.
func (t *BVH) traverseOrdered(
	limit *float64,
	measure func(bb BB, limit float64) float64,
	within func(d, limit float64) bool,
	visit func(id ProxyId, limit *float64) bool,
) {
	var buf [traversalStackSize]stackEntry
	stack := buf[:0]

	if d := measure(t.nodes[t.root].bb, *limit); within(d, *limit) {
		stack = append(stack, stackEntry{t.root, d})
	}

	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// The limit may have shrunk since this entry was pushed.
		if !within(e.t, *limit) {
			continue
		}

		n := &t.nodes[e.node]
		if n.isLeaf() {
			if !visit(n.proxy, limit) {
				return
			}
			continue
		}

		c1, c2 := n.child1, n.child2
		d1 := measure(t.nodes[c1].bb, *limit)
		d2 := measure(t.nodes[c2].bb, *limit)
		if d1 > d2 {
			c1, c2 = c2, c1
			d1, d2 = d2, d1
		}
		// Push the far child first so the near one is popped next.
		if within(d2, *limit) {
			stack = append(stack, stackEntry{c2, d2})
		}
		if within(d1, *limit) {
			stack = append(stack, stackEntry{c1, d1})
		}
	}
}

// traversePoint visits every leaf whose bound contains p.
func (t *BVH) traversePoint(p vec.Vec2, visit func(id ProxyId) bool) {
	t.traverseOverlap(func(bb BB) bool { return bb.ContainsVect(p) }, visit)
}

// traverseBB visits every leaf whose bound overlaps box.
func (t *BVH) traverseBB(box BB, visit func(id ProxyId) bool) {
	t.traverseOverlap(func(bb BB) bool { return bb.Intersects(box) }, visit)
}

func (t *BVH) traverseOverlap(test func(bb BB) bool, visit func(id ProxyId) bool) {
	if t.root == nullNode {
		return
	}
	var buf [traversalStackSize]int32
	stack := append(buf[:0], t.root)

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[i]
		if !test(n.bb) {
			continue
		}
		if n.isLeaf() {
			if !visit(n.proxy) {
				return
			}
			continue
		}
		stack = append(stack, n.child2, n.child1)
	}
}

// eachNode walks every node depth first, reporting its depth.
func (t *BVH) eachNode(fn func(bb BB, depth int, leaf bool, id ProxyId)) {
	if t.root == nullNode {
		return
	}
	type entry struct {
		node  int32
		depth int
	}
	stack := []entry{{t.root, 0}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[e.node]
		fn(n.bb, e.depth, n.isLeaf(), n.proxy)
		if !n.isLeaf() {
			stack = append(stack, entry{n.child2, e.depth + 1}, entry{n.child1, e.depth + 1})
		}
	}
}
