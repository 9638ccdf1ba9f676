package ctree

import (
	"fmt"
	"math"
)

// Entity is an opaque collider or body handle. The low 32 bits are its index.
type Entity uint64

// NoEntity stands for "no body".
const NoEntity Entity = math.MaxUint64

// NewEntity builds a handle from an index and a generation.
func NewEntity(index, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(index))
}

func (e Entity) Index() uint32 { return uint32(e) }

func (e Entity) Generation() uint32 { return uint32(e >> 32) }

func (e Entity) String() string {
	if e == NoEntity {
		return "none"
	}
	return fmt.Sprintf("%dv%d", e.Index(), e.Generation())
}

// LayerMask is a bit set of up to 32 collision layers.
type LayerMask uint32

const (
	// AllLayers has every layer bit set.
	AllLayers LayerMask = math.MaxUint32
	// NoLayers has no layer bits set.
	NoLayers LayerMask = 0
	// DefaultLayer is the first layer.
	DefaultLayer LayerMask = 1
)

// CollisionLayers decides which colliders may touch.
type CollisionLayers struct {
	// The layers this collider belongs to.
	Memberships LayerMask
	// The layers this collider can interact with.
	// Both colliders' memberships and filters must agree for an interaction to occur.
	Filters LayerMask
}

// DefaultCollisionLayers belongs to the first layer and interacts with every layer.
var DefaultCollisionLayers = CollisionLayers{DefaultLayer, AllLayers}

// CollisionLayersAll belongs to and interacts with every layer.
var CollisionLayersAll = CollisionLayers{AllLayers, AllLayers}

// CollisionLayersNone interacts with nothing.
var CollisionLayersNone = CollisionLayers{NoLayers, NoLayers}

// NewCollisionLayers is a convenience constructor.
func NewCollisionLayers(memberships, filters LayerMask) CollisionLayers {
	return CollisionLayers{memberships, filters}
}

// InteractsWith returns true when each side's memberships match the other's filters.
func (l CollisionLayers) InteractsWith(other CollisionLayers) bool {
	return l.Memberships&other.Filters != 0 && other.Memberships&l.Filters != 0
}

// ProxyFlags carries per-collider bits the broad phase needs without looking
// the collider up.
type ProxyFlags uint8

const (
	SensorFlag ProxyFlags = 1 << iota
	BodyDisabledFlag
	CustomFilterFlag
	ModifyContactsFlag
	ContactEventsFlag
)

// ActiveHooks selects which user hooks run for a collider.
type ActiveHooks uint8

const (
	FilterPairsHook ActiveHooks = 1 << iota
	ModifyContactsHook
)

// NewProxyFlags builds flags from collider state.
func NewProxyFlags(sensor, bodyDisabled, contactEvents bool, hooks ActiveHooks) ProxyFlags {
	var f ProxyFlags
	f = f.Set(SensorFlag, sensor)
	f = f.Set(BodyDisabledFlag, bodyDisabled)
	f = f.Set(ContactEventsFlag, contactEvents)
	f = f.Set(CustomFilterFlag, hooks&FilterPairsHook != 0)
	f = f.Set(ModifyContactsFlag, hooks&ModifyContactsHook != 0)
	return f
}

func (f ProxyFlags) Has(flag ProxyFlags) bool { return f&flag == flag }

func (f ProxyFlags) With(flag ProxyFlags) ProxyFlags { return f | flag }

func (f ProxyFlags) Without(flag ProxyFlags) ProxyFlags { return f &^ flag }

// Set turns flag on or off.
func (f ProxyFlags) Set(flag ProxyFlags, on bool) ProxyFlags {
	if on {
		return f | flag
	}
	return f &^ flag
}

// Proxy is a collider's entry in a ColliderTree.
type Proxy struct {
	Collider Entity
	// Body is NoEntity for standalone colliders.
	Body Entity
	// AABB is the tight bound. The tree leaf may be larger.
	AABB   BB
	Layers CollisionLayers
	Flags  ProxyFlags
}

func (p *Proxy) HasBody() bool { return p.Body != NoEntity }

func (p *Proxy) IsSensor() bool { return p.Flags.Has(SensorFlag) }

func (p *Proxy) HasCustomFilter() bool { return p.Flags.Has(CustomFilterFlag) }

func (p *Proxy) HasContactModification() bool { return p.Flags.Has(ModifyContactsFlag) }

// SharesBody reports whether both proxies are attached to the same body.
// Colliders without a body never share one.
func (p *Proxy) SharesBody(other *Proxy) bool {
	return p.HasBody() && p.Body == other.Body
}
