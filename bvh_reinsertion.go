package ctree

import (
	"cmp"
	"math"
	"slices"
)

type costEntry struct {
	node      int32
	inherited float64
}

// Optimize relocates the nodes with the largest bounds. batchRatio is the
// share of non-root nodes considered, in (0, 1]. It returns how many nodes
// moved.
func (t *BVH) Optimize(batchRatio float64) int {
	if t.root == nullNode || t.nodes[t.root].isLeaf() || batchRatio <= 0 {
		return 0
	}
	w := &t.work
	candidates := w.candidates[:0]
	for i := range t.nodes {
		if int32(i) == t.root || t.nodes[i].height < 0 {
			continue
		}
		candidates = append(candidates, int32(i))
	}
	slices.SortFunc(candidates, func(a, b int32) int {
		return cmp.Or(
			cmp.Compare(t.nodes[b].bb.Perimeter(), t.nodes[a].bb.Perimeter()),
			cmp.Compare(a, b),
		)
	})
	count := min(len(candidates), int(math.Ceil(batchRatio*float64(len(candidates)))))
	w.candidates = candidates

	moved := 0
	for _, node := range candidates[:count] {
		if t.reinsertNode(node) {
			moved++
		}
	}
	return moved
}

// OptimizeCandidates relocates only the leaves of ids, repeating the pass
// iterations times. It returns how many relocations happened.
func (t *BVH) OptimizeCandidates(ids []ProxyId, iterations int) int {
	return t.optimizeCandidates(t.leafNodes(ids), iterations)
}

func (t *BVH) optimizeCandidates(nodes []int32, iterations int) int {
	moved := 0
	for range iterations {
		for _, node := range nodes {
			if t.reinsertNode(node) {
				moved++
			}
		}
	}
	return moved
}

// reinsertNode detaches node and links it next to the sibling with the
// lowest induced cost, if that beats its current place.
func (t *BVH) reinsertNode(node int32) bool {
	if node < 0 || int(node) >= len(t.nodes) || t.nodes[node].height < 0 {
		return false
	}
	parent := t.nodes[node].parent
	if parent == nullNode {
		return false
	}
	sibling := t.nodes[parent].child1
	if sibling == node {
		sibling = t.nodes[parent].child2
	}

	t.detachNode(node, false)

	bb := t.nodes[node].bb
	current := t.insertionCost(sibling, bb)
	best, bestCost := t.findBestSibling(bb)

	target := sibling
	if bestCost < current-magicEpsilon {
		target = best
	}
	t.attachAt(node, target, false)
	return target != sibling
}

// insertionCost is the perimeter added to the tree by making bb a sibling
// of node.
func (t *BVH) insertionCost(node int32, bb BB) float64 {
	cost := t.nodes[node].bb.MergedPerimeter(bb)
	for a := t.nodes[node].parent; a != nullNode; a = t.nodes[a].parent {
		n := &t.nodes[a]
		cost += n.bb.MergedPerimeter(bb) - n.bb.Perimeter()
	}
	return cost
}

// findBestSibling searches the whole tree by branch and bound for the node
// with the lowest insertion cost for bb.
func (t *BVH) findBestSibling(bb BB) (int32, float64) {
	w := &t.work
	leafCost := bb.Perimeter()
	best, bestCost := t.root, infinity

	stack := append(w.costStack[:0], costEntry{t.root, 0})
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[e.node]
		merged := n.bb.MergedPerimeter(bb)
		if cost := e.inherited + merged; cost < bestCost {
			best, bestCost = e.node, cost
		}
		if n.isLeaf() {
			continue
		}
		inherited := e.inherited + merged - n.bb.Perimeter()
		if inherited+leafCost >= bestCost {
			continue
		}
		stack = append(stack, costEntry{n.child1, inherited}, costEntry{n.child2, inherited})
	}
	w.costStack = stack
	return best, bestCost
}
