package ctree

import (
	"fmt"
)

const nullNode int32 = -1

type bvhNode struct {
	bb BB
	// parent doubles as the next link while the node is on the free list.
	parent int32
	child1 int32
	child2 int32
	// leaf = 0, free node = -1
	height int32
	proxy  ProxyId
}

func (n *bvhNode) isLeaf() bool {
	return n.child1 == nullNode
}

// BVH is a binary bounding volume hierarchy over proxy ids.
//
// Nodes live in a flat slice and are addressed by index, so a BVH can be
// cloned with two copies and handed to another goroutine.
type BVH struct {
	nodes     []bvhNode
	root      int32
	freeList  int32
	nodeCount int
	// leafOf maps a ProxyId to its leaf node, nullNode when absent.
	leafOf []int32
	leaves int

	work buildWorkspace
}

// NewBVH returns an empty hierarchy.
func NewBVH() *BVH {
	return &BVH{
		root:     nullNode,
		freeList: nullNode,
	}
}

// Clone returns a deep copy.
func (t *BVH) Clone() *BVH {
	c := *t
	c.nodes = make([]bvhNode, len(t.nodes), cap(t.nodes))
	copy(c.nodes, t.nodes)
	c.leafOf = make([]int32, len(t.leafOf), cap(t.leafOf))
	copy(c.leafOf, t.leafOf)
	c.work = buildWorkspace{}
	return &c
}

// Len returns the number of leaves.
func (t *BVH) Len() int { return t.leaves }

// Height returns the height of the root, 0 for an empty or single-leaf tree.
func (t *BVH) Height() int {
	if t.root == nullNode {
		return 0
	}
	return int(t.nodes[t.root].height)
}

// Bounds returns the root bound.
func (t *BVH) Bounds() (BB, bool) {
	if t.root == nullNode {
		return BB{}, false
	}
	return t.nodes[t.root].bb, true
}

// Cost returns the summed perimeter of internal nodes divided by the root
// perimeter. Lower is better.
func (t *BVH) Cost() float64 {
	if t.root == nullNode {
		return 0
	}
	rootPerimeter := t.nodes[t.root].bb.Perimeter()
	if rootPerimeter == 0 {
		return 0
	}
	total := 0.0
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.height <= 0 {
			continue
		}
		total += n.bb.Perimeter()
	}
	return total / rootPerimeter
}

func (t *BVH) allocateNode() int32 {
	if t.freeList == nullNode {
		t.nodes = append(t.nodes, bvhNode{})
		i := int32(len(t.nodes) - 1)
		t.nodes[i] = bvhNode{parent: nullNode, child1: nullNode, child2: nullNode}
		t.nodeCount++
		return i
	}

	// Peel a node off the free list.
	i := t.freeList
	t.freeList = t.nodes[i].parent
	t.nodes[i] = bvhNode{parent: nullNode, child1: nullNode, child2: nullNode}
	t.nodeCount++
	return i
}

func (t *BVH) freeNode(i int32) {
	t.nodes[i] = bvhNode{parent: t.freeList, child1: nullNode, child2: nullNode, height: -1}
	t.freeList = i
	t.nodeCount--
}

func (t *BVH) leafNode(id ProxyId) int32 {
	if int(id) >= len(t.leafOf) {
		return nullNode
	}
	return t.leafOf[id]
}

// leafNodes maps ids to leaf nodes, skipping ids without a leaf.
func (t *BVH) leafNodes(ids []ProxyId) []int32 {
	nodes := make([]int32, 0, len(ids))
	for _, id := range ids {
		if n := t.leafNode(id); n != nullNode {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// LeafBound returns the bound stored on the leaf of id.
func (t *BVH) LeafBound(id ProxyId) (BB, bool) {
	leaf := t.leafNode(id)
	if leaf == nullNode {
		return BB{}, false
	}
	return t.nodes[leaf].bb, true
}

// Insert adds a leaf for id with the given bound.
func (t *BVH) Insert(id ProxyId, bb BB) {
	for int(id) >= len(t.leafOf) {
		t.leafOf = append(t.leafOf, nullNode)
	}
	if t.leafOf[id] != nullNode {
		panic(fmt.Sprintf("ctree: proxy %d already has a leaf", id))
	}

	leaf := t.allocateNode()
	t.nodes[leaf].bb = bb
	t.nodes[leaf].proxy = id
	t.leafOf[id] = leaf
	t.leaves++

	t.insertNode(leaf, true)
}

// Remove deletes the leaf of id. It reports false if id has no leaf.
func (t *BVH) Remove(id ProxyId) bool {
	leaf := t.leafNode(id)
	if leaf == nullNode {
		return false
	}
	t.detachNode(leaf, true)
	t.freeNode(leaf)
	t.leafOf[id] = nullNode
	t.leaves--
	return true
}

// SetLeafBound overwrites the leaf bound without touching ancestors.
// Call RefitAll after a batch of these.
func (t *BVH) SetLeafBound(id ProxyId, bb BB) {
	leaf := t.leafNode(id)
	if leaf == nullNode {
		return
	}
	t.nodes[leaf].bb = bb
}

// Resize overwrites the leaf bound and refits its ancestors.
func (t *BVH) Resize(id ProxyId, bb BB) {
	leaf := t.leafNode(id)
	if leaf == nullNode {
		return
	}
	t.nodes[leaf].bb = bb
	t.refitUp(t.nodes[leaf].parent)
}

// Reinsert removes the leaf of id and inserts it again at the best position
// for its current bound.
func (t *BVH) Reinsert(id ProxyId) {
	leaf := t.leafNode(id)
	if leaf == nullNode {
		return
	}
	t.detachNode(leaf, true)
	t.insertNode(leaf, true)
}

// insertNode links node, a leaf or a detached subtree, next to the sibling
// that minimizes perimeter growth.
func (t *BVH) insertNode(node int32, balance bool) {
	if t.root == nullNode {
		t.root = node
		t.nodes[node].parent = nullNode
		return
	}
	t.attachAt(node, t.findSiblingGreedy(t.nodes[node].bb), balance)
}

// findSiblingGreedy descends from the root by perimeter cost including the
// growth inherited by every ancestor.
func (t *BVH) findSiblingGreedy(bb BB) int32 {
	index := t.root
	for !t.nodes[index].isLeaf() {
		n := &t.nodes[index]
		child1 := n.child1
		child2 := n.child2

		area := n.bb.Perimeter()
		combinedArea := n.bb.MergedPerimeter(bb)

		// Cost of creating a new parent for this node and the new leaf
		cost := 2 * combinedArea

		// Minimum cost of pushing the leaf further down the tree
		inheritanceCost := 2 * (combinedArea - area)

		cost1 := t.descendCost(child1, bb) + inheritanceCost
		cost2 := t.descendCost(child2, bb) + inheritanceCost

		if cost < cost1 && cost < cost2 {
			break
		}

		if cost1 < cost2 {
			index = child1
		} else {
			index = child2
		}
	}
	return index
}

func (t *BVH) descendCost(child int32, bb BB) float64 {
	c := &t.nodes[child]
	if c.isLeaf() {
		return c.bb.MergedPerimeter(bb)
	}
	return c.bb.MergedPerimeter(bb) - c.bb.Perimeter()
}

// attachAt creates a new parent for sibling and node and walks back up
// fixing heights and bounds.
func (t *BVH) attachAt(node, sibling int32, balance bool) {
	oldParent := t.nodes[sibling].parent
	newParent := t.allocateNode()

	np := &t.nodes[newParent]
	np.parent = oldParent
	np.bb = t.nodes[node].bb.Merge(t.nodes[sibling].bb)
	np.height = max(t.nodes[sibling].height, t.nodes[node].height) + 1
	np.child1 = sibling
	np.child2 = node

	if oldParent != nullNode {
		t.replaceChild(oldParent, sibling, newParent)
	} else {
		t.root = newParent
	}
	t.nodes[sibling].parent = newParent
	t.nodes[node].parent = newParent

	if balance {
		t.balanceUp(t.nodes[node].parent)
	} else {
		t.refitUp(t.nodes[node].parent)
	}
}

// detachNode unlinks node and its subtree. The parent node is freed and the
// sibling takes its place.
func (t *BVH) detachNode(node int32, balance bool) {
	if node == t.root {
		t.root = nullNode
		return
	}

	parent := t.nodes[node].parent
	grandParent := t.nodes[parent].parent
	sibling := t.nodes[parent].child1
	if sibling == node {
		sibling = t.nodes[parent].child2
	}

	t.nodes[node].parent = nullNode

	if grandParent == nullNode {
		t.root = sibling
		t.nodes[sibling].parent = nullNode
		t.freeNode(parent)
		return
	}

	// Destroy parent and connect sibling to grandParent.
	t.replaceChild(grandParent, parent, sibling)
	t.nodes[sibling].parent = grandParent
	t.freeNode(parent)

	if balance {
		t.balanceUp(grandParent)
	} else {
		t.refitUp(grandParent)
	}
}

func (t *BVH) replaceChild(parent, oldChild, newChild int32) {
	p := &t.nodes[parent]
	if p.child1 == oldChild {
		p.child1 = newChild
	} else {
		p.child2 = newChild
	}
}

// refitUp recomputes bounds and heights from index to the root.
func (t *BVH) refitUp(index int32) {
	for index != nullNode {
		n := &t.nodes[index]
		c1 := &t.nodes[n.child1]
		c2 := &t.nodes[n.child2]
		n.bb = c1.bb.Merge(c2.bb)
		n.height = 1 + max(c1.height, c2.height)
		index = n.parent
	}
}

// balanceUp is refitUp with a rotation at every step.
func (t *BVH) balanceUp(index int32) {
	for index != nullNode {
		index = t.balance(index)

		n := &t.nodes[index]
		c1 := &t.nodes[n.child1]
		c2 := &t.nodes[n.child2]
		n.height = 1 + max(c1.height, c2.height)
		n.bb = c1.bb.Merge(c2.bb)

		index = n.parent
	}
}

// balance performs a left or right rotation if node iA is imbalanced.
// Returns the new root index of the rotated subtree.
func (t *BVH) balance(iA int32) int32 {
	A := &t.nodes[iA]
	if A.isLeaf() || A.height < 2 {
		return iA
	}

	iB := A.child1
	iC := A.child2
	B := &t.nodes[iB]
	C := &t.nodes[iC]

	diff := C.height - B.height

	// Rotate C up
	if diff > 1 {
		iF := C.child1
		iG := C.child2
		F := &t.nodes[iF]
		G := &t.nodes[iG]

		// Swap A and C
		C.child1 = iA
		C.parent = A.parent
		A.parent = iC

		// A's old parent should point to C
		if C.parent != nullNode {
			t.replaceChild(C.parent, iA, iC)
		} else {
			t.root = iC
		}

		if F.height > G.height {
			C.child2 = iF
			A.child2 = iG
			G.parent = iA
			A.bb = B.bb.Merge(G.bb)
			C.bb = A.bb.Merge(F.bb)
			A.height = 1 + max(B.height, G.height)
			C.height = 1 + max(A.height, F.height)
		} else {
			C.child2 = iG
			A.child2 = iF
			F.parent = iA
			A.bb = B.bb.Merge(F.bb)
			C.bb = A.bb.Merge(G.bb)
			A.height = 1 + max(B.height, F.height)
			C.height = 1 + max(A.height, G.height)
		}
		return iC
	}

	// Rotate B up
	if diff < -1 {
		iD := B.child1
		iE := B.child2
		D := &t.nodes[iD]
		E := &t.nodes[iE]

		// Swap A and B
		B.child1 = iA
		B.parent = A.parent
		A.parent = iB

		// A's old parent should point to B
		if B.parent != nullNode {
			t.replaceChild(B.parent, iA, iB)
		} else {
			t.root = iB
		}

		if D.height > E.height {
			B.child2 = iD
			A.child1 = iE
			E.parent = iA
			A.bb = C.bb.Merge(E.bb)
			B.bb = A.bb.Merge(D.bb)
			A.height = 1 + max(C.height, E.height)
			B.height = 1 + max(A.height, D.height)
		} else {
			B.child2 = iE
			A.child1 = iD
			D.parent = iA
			A.bb = C.bb.Merge(D.bb)
			B.bb = A.bb.Merge(E.bb)
			A.height = 1 + max(C.height, D.height)
			B.height = 1 + max(A.height, E.height)
		}
		return iB
	}

	return iA
}

// RefitAll recomputes every internal bound from the leaves up.
func (t *BVH) RefitAll() {
	if t.root == nullNode {
		return
	}
	t.refitSubtree(t.root)
}

func (t *BVH) refitSubtree(index int32) {
	n := &t.nodes[index]
	if n.isLeaf() {
		return
	}
	c1, c2 := n.child1, n.child2
	t.refitSubtree(c1)
	t.refitSubtree(c2)
	n = &t.nodes[index]
	n.bb = t.nodes[c1].bb.Merge(t.nodes[c2].bb)
	n.height = 1 + max(t.nodes[c1].height, t.nodes[c2].height)
}

// Clear removes every node and keeps the allocations.
func (t *BVH) Clear() {
	t.nodes = t.nodes[:0]
	t.leafOf = t.leafOf[:0]
	t.root = nullNode
	t.freeList = nullNode
	t.nodeCount = 0
	t.leaves = 0
}

// Validate checks links, heights, bounds and the leaf map.
func (t *BVH) Validate() error {
	if t.root == nullNode {
		if t.leaves != 0 {
			return fmt.Errorf("empty tree reports %d leaves", t.leaves)
		}
		return nil
	}
	if t.nodes[t.root].parent != nullNode {
		return fmt.Errorf("root %d has parent %d", t.root, t.nodes[t.root].parent)
	}

	leaves := 0
	nodes := 0
	var walk func(i int32) error
	walk = func(i int32) error {
		nodes++
		n := &t.nodes[i]
		if n.height < 0 {
			return fmt.Errorf("node %d is on the free list", i)
		}
		if n.isLeaf() {
			leaves++
			if n.height != 0 {
				return fmt.Errorf("leaf %d has height %d", i, n.height)
			}
			if t.leafNode(n.proxy) != i {
				return fmt.Errorf("leaf %d not mapped from proxy %d", i, n.proxy)
			}
			return nil
		}
		for _, c := range [2]int32{n.child1, n.child2} {
			if c == nullNode {
				return fmt.Errorf("internal node %d has a single child", i)
			}
			if t.nodes[c].parent != i {
				return fmt.Errorf("node %d parent is %d, want %d", c, t.nodes[c].parent, i)
			}
			if !n.bb.Contains(t.nodes[c].bb) {
				return fmt.Errorf("node %d bound %v does not contain child %d bound %v", i, n.bb, c, t.nodes[c].bb)
			}
		}
		if h := 1 + max(t.nodes[n.child1].height, t.nodes[n.child2].height); h != n.height {
			return fmt.Errorf("node %d height %d, want %d", i, n.height, h)
		}
		if err := walk(n.child1); err != nil {
			return err
		}
		return walk(n.child2)
	}
	if err := walk(t.root); err != nil {
		return err
	}
	if leaves != t.leaves {
		return fmt.Errorf("reached %d leaves, tree reports %d", leaves, t.leaves)
	}
	if nodes != t.nodeCount {
		return fmt.Errorf("reached %d nodes, tree allocated %d", nodes, t.nodeCount)
	}
	return nil
}
