package ctree

import "iter"

// ColliderTrees holds one ColliderTree per TreeCategory.
type ColliderTrees struct {
	trees [4]*ColliderTree
}

// NewColliderTrees returns four empty trees.
func NewColliderTrees() *ColliderTrees {
	ts := &ColliderTrees{}
	for i := range ts.trees {
		ts.trees[i] = NewColliderTree()
	}
	return ts
}

// Tree returns the tree of category c.
func (ts *ColliderTrees) Tree(c TreeCategory) *ColliderTree {
	return ts.trees[c&3]
}

// TreeFor returns the tree the key points into.
func (ts *ColliderTrees) TreeFor(key ProxyKey) *ColliderTree {
	return ts.trees[key.Category()]
}

// Get resolves a key to its proxy. Placeholder and stale keys report false.
func (ts *ColliderTrees) Get(key ProxyKey) (*Proxy, bool) {
	if key.IsPlaceholder() {
		return nil, false
	}
	return ts.TreeFor(key).GetProxy(key.Id())
}

// All iterates the trees in category order.
func (ts *ColliderTrees) All() iter.Seq2[TreeCategory, *ColliderTree] {
	return func(yield func(TreeCategory, *ColliderTree) bool) {
		for _, c := range TreeCategories {
			if !yield(c, ts.trees[c]) {
				return
			}
		}
	}
}

// Len returns the total number of proxies.
func (ts *ColliderTrees) Len() int {
	n := 0
	for _, t := range ts.trees {
		n += t.Len()
	}
	return n
}

// Clear empties every tree.
func (ts *ColliderTrees) Clear() {
	for _, t := range ts.trees {
		t.Clear()
	}
}
