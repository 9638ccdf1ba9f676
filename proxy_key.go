package ctree

import (
	"fmt"
	"math"
)

// ProxyId is the stable index of a proxy inside its ColliderTree.
// It is reused after the proxy is removed and always fits in 30 bits.
type ProxyId uint32

// PlaceholderProxyId is the id of PlaceholderProxyKey. It is never issued,
// so live ids are below it.
const PlaceholderProxyId ProxyId = math.MaxUint32 >> 2

// TreeCategory selects one of the four collider trees.
type TreeCategory uint8

const (
	Dynamic TreeCategory = iota
	Kinematic
	Static
	Standalone
)

// TreeCategories lists every category in key order.
var TreeCategories = [4]TreeCategory{Dynamic, Kinematic, Static, Standalone}

func (c TreeCategory) String() string {
	switch c {
	case Dynamic:
		return "dynamic"
	case Kinematic:
		return "kinematic"
	case Static:
		return "static"
	case Standalone:
		return "standalone"
	}
	return fmt.Sprintf("TreeCategory(%d)", uint8(c))
}

// BodyKind is the motion type of a rigid body.
type BodyKind uint8

const (
	DynamicBody BodyKind = iota
	KinematicBody
	StaticBody
)

// TreeCategoryForBody returns the tree a collider attached to a body of the
// given kind lives in.
func TreeCategoryForBody(kind BodyKind) TreeCategory {
	switch kind {
	case KinematicBody:
		return Kinematic
	case StaticBody:
		return Static
	default:
		return Dynamic
	}
}

// ProxyKey packs a ProxyId and its TreeCategory into 32 bits.
// The low two bits hold the category.
type ProxyKey uint32

// PlaceholderProxyKey marks a collider that has no proxy yet.
const PlaceholderProxyKey ProxyKey = math.MaxUint32

// NewProxyKey encodes id and category. It panics with ErrProxyIdOverflow if
// id is not below PlaceholderProxyId.
func NewProxyKey(id ProxyId, c TreeCategory) ProxyKey {
	if id >= PlaceholderProxyId {
		panic(fmt.Errorf("%w: %d", ErrProxyIdOverflow, id))
	}
	return ProxyKey(uint32(id)<<2 | uint32(c&3))
}

func (k ProxyKey) Id() ProxyId { return ProxyId(k >> 2) }

func (k ProxyKey) Category() TreeCategory { return TreeCategory(k & 3) }

// Decode returns the id and category packed in k.
func (k ProxyKey) Decode() (ProxyId, TreeCategory) {
	return k.Id(), k.Category()
}

// Is reports whether k belongs to the tree of category c.
func (k ProxyKey) Is(c TreeCategory) bool { return k.Category() == c }

func (k ProxyKey) IsPlaceholder() bool { return k == PlaceholderProxyKey }

func (k ProxyKey) String() string {
	if k.IsPlaceholder() {
		return "ProxyKey(placeholder)"
	}
	return fmt.Sprintf("ProxyKey(%s:%d)", k.Category(), k.Id())
}
