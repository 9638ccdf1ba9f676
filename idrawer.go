package ctree

// Draw flags
const (
	DrawLeaves     = 1 << 0
	DrawInternal   = 1 << 1
	DrawProxyAABBs = 1 << 2
)

// 16 bytes
type FColor struct {
	R, G, B, A float32
}

// TreeDrawer receives the boxes of a collider tree.
type TreeDrawer interface {
	// DrawBB draws one box. depth is 0 at the root; for proxy AABBs it is the
	// depth of the leaf.
	DrawBB(bb BB, depth int, leaf bool, color FColor)
	Flags() uint
}

var categoryColors = [4]FColor{
	Dynamic:    {0.30, 0.60, 1.00, 1},
	Kinematic:  {0.90, 0.60, 0.20, 1},
	Static:     {0.50, 0.50, 0.50, 1},
	Standalone: {0.40, 0.85, 0.40, 1},
}

// depthColor fades the category color with depth.
func depthColor(c TreeCategory, depth int, height int) FColor {
	col := categoryColors[c&3]
	if height <= 0 {
		return col
	}
	f := 1 - 0.7*float32(depth)/float32(height+1)
	col.R *= f
	col.G *= f
	col.B *= f
	return col
}

// DrawTree draws tree with the drawer implementation.
func DrawTree(tree *ColliderTree, c TreeCategory, drawer TreeDrawer) {
	flags := drawer.Flags()
	bvh := tree.BVH()
	height := bvh.Height()

	bvh.eachNode(func(bb BB, depth int, leaf bool, id ProxyId) {
		if leaf {
			if flags&DrawLeaves != 0 {
				drawer.DrawBB(bb, depth, true, depthColor(c, depth, height))
			}
			if flags&DrawProxyAABBs != 0 {
				if p, ok := tree.GetProxy(id); ok {
					col := categoryColors[c&3]
					col.A = 0.5
					drawer.DrawBB(p.AABB, depth, true, col)
				}
			}
			return
		}
		if flags&DrawInternal != 0 {
			col := depthColor(c, depth, height)
			col.A = 0.35
			drawer.DrawBB(bb, depth, false, col)
		}
	})
}

// DrawTrees draws every tree.
func DrawTrees(trees *ColliderTrees, drawer TreeDrawer) {
	for c, tree := range trees.All() {
		DrawTree(tree, c, drawer)
	}
}
