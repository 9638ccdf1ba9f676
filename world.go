package ctree

import (
	"context"
	"fmt"
	"time"
)

// ColliderDesc describes a collider to add to a World.
type ColliderDesc struct {
	Collider Entity
	// Body is NoEntity for a standalone collider.
	Body Entity
	// Kind picks the tree of a collider with a body.
	Kind          BodyKind
	AABB          BB
	Layers        CollisionLayers
	Sensor        bool
	ContactEvents bool
	Hooks         ActiveHooks
}

// NewColliderDesc returns a standalone collider on the default layers.
func NewColliderDesc(collider Entity, aabb BB) ColliderDesc {
	return ColliderDesc{
		Collider: collider,
		Body:     NoEntity,
		AABB:     aabb,
		Layers:   DefaultCollisionLayers,
	}
}

// WithBody attaches the collider to body.
func (d ColliderDesc) WithBody(body Entity, kind BodyKind) ColliderDesc {
	d.Body = body
	d.Kind = kind
	return d
}

func (d ColliderDesc) category() TreeCategory {
	if d.Body == NoEntity {
		return Standalone
	}
	return TreeCategoryForBody(d.Kind)
}

type colliderEntry struct {
	key ProxyKey
	// aabb is the tight bound last set by the user.
	aabb BB
	// enlarged is the leaf bound stored in the tree.
	enlarged BB
	body     Entity
	kind     BodyKind
	dirty    bool
}

// World owns the collider trees and runs the per-step pipeline: bound
// update, broad phase, tree optimization and an optional narrow phase.
//
// A World is not safe for concurrent use, except for reading metrics.
type World struct {
	trees      *ColliderTrees
	moved      *MovedProxies
	enlarged   *EnlargedProxies
	optimizer  *Optimizer
	broadPhase *BroadPhase

	graph       ContactGraph
	joints      JointGraph
	hooks       CollisionHooks
	narrowPhase NarrowPhaseFunc

	colliders      map[Entity]*colliderEntry
	dirty          []Entity
	disabledBodies map[Entity]struct{}

	enlargeMargin  float64
	refitThreshold float64

	logger   *Logger
	diag     Diagnostics
	recorder *diagnosticsRecorder
	metrics  *MetricsCollector

	locked bool
}

// NewWorld returns an empty World. It fails only when the metrics collector
// cannot be registered.
func NewWorld(opts ...Option) (*World, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	w := &World{
		trees:          NewColliderTrees(),
		moved:          NewMovedProxies(),
		enlarged:       NewEnlargedProxies(),
		graph:          o.graph,
		joints:         o.joints,
		hooks:          o.hooks,
		narrowPhase:    o.narrowPhase,
		colliders:      make(map[Entity]*colliderEntry),
		disabledBodies: make(map[Entity]struct{}),
		enlargeMargin:  o.enlargeMargin,
		refitThreshold: o.refitThreshold,
		logger:         o.logger,
		recorder:       &diagnosticsRecorder{},
	}
	if w.graph == nil {
		w.graph = NewPairSet()
	}
	if w.joints == nil {
		w.joints = NewJointSet()
	}
	w.optimizer = NewOptimizer(o.optimization, o.logger, &w.diag.Trees)
	w.broadPhase = NewBroadPhase(o.chunkSize, o.parallelism, o.logger, &w.diag.Collision)
	w.metrics = newMetricsCollector(w.recorder)

	if o.registerer != nil {
		if err := o.registerer.Register(w.metrics); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return w, nil
}

func (w *World) Trees() *ColliderTrees { return w.trees }

// MovedProxies returns the keys moved since the last step.
func (w *World) MovedProxies() *MovedProxies { return w.moved }

func (w *World) ContactGraph() ContactGraph { return w.graph }

func (w *World) JointGraph() JointGraph { return w.joints }

// Optimizer returns the tree optimizer, for changing its settings between
// steps.
func (w *World) Optimizer() *Optimizer { return w.optimizer }

// Query returns a spatial query view of the trees.
func (w *World) Query() *SpatialQuery { return NewSpatialQuery(w.trees) }

// Diagnostics returns the timers of the last step.
func (w *World) Diagnostics() Diagnostics {
	last, _, _ := w.recorder.snapshot()
	return last
}

// Metrics returns the Prometheus collector for this World.
func (w *World) Metrics() *MetricsCollector { return w.metrics }

// IsLocked reports whether a step is running.
func (w *World) IsLocked() bool { return w.locked }

func (w *World) Len() int { return len(w.colliders) }

// ProxyKey returns the key of the proxy of collider e.
func (w *World) ProxyKey(e Entity) (ProxyKey, bool) {
	entry, ok := w.colliders[e]
	if !ok {
		return PlaceholderProxyKey, false
	}
	return entry.key, true
}

// Proxy returns the proxy of collider e.
func (w *World) Proxy(e Entity) (*Proxy, bool) {
	entry, ok := w.colliders[e]
	if !ok {
		return nil, false
	}
	return w.trees.Get(entry.key)
}

// AddCollider registers a collider and inserts its proxy.
func (w *World) AddCollider(desc ColliderDesc) (ProxyKey, error) {
	const op = "add"
	if w.locked {
		return PlaceholderProxyKey, colliderError(op, desc.Collider, ErrWorldLocked)
	}
	if _, ok := w.colliders[desc.Collider]; ok {
		return PlaceholderProxyKey, colliderError(op, desc.Collider, ErrColliderExists)
	}
	if !desc.AABB.IsValid() {
		return PlaceholderProxyKey, colliderError(op, desc.Collider, fmt.Errorf("%w: %v", ErrInvalidAABB, desc.AABB))
	}

	c := desc.category()
	tree := w.trees.Tree(c)
	if tree.IsFull() {
		return PlaceholderProxyKey, colliderError(op, desc.Collider, ErrProxyIdOverflow)
	}

	_, disabled := w.disabledBodies[desc.Body]
	proxy := Proxy{
		Collider: desc.Collider,
		Body:     desc.Body,
		AABB:     desc.AABB,
		Layers:   desc.Layers,
		Flags:    NewProxyFlags(desc.Sensor, disabled && desc.Body != NoEntity, desc.ContactEvents, desc.Hooks),
	}
	enlarged := desc.AABB.Grow(w.enlargeMargin)
	key := NewProxyKey(tree.AddProxy(enlarged, proxy), c)
	w.moved.Insert(key)

	w.colliders[desc.Collider] = &colliderEntry{
		key:      key,
		aabb:     desc.AABB,
		enlarged: enlarged,
		body:     desc.Body,
		kind:     desc.Kind,
	}
	w.logger.Debug("collider added", "collider", desc.Collider.String(), "key", key.String())
	return key, nil
}

// RemoveCollider removes collider e and every contact pair it is part of.
func (w *World) RemoveCollider(e Entity) error {
	const op = "remove"
	if w.locked {
		return colliderError(op, e, ErrWorldLocked)
	}
	entry, ok := w.colliders[e]
	if !ok {
		return colliderError(op, e, ErrColliderNotFound)
	}
	w.trees.TreeFor(entry.key).RemoveProxy(entry.key.Id())
	w.moved.Remove(entry.key)
	delete(w.colliders, e)

	if g, ok := w.graph.(interface{ RemoveCollider(Entity) int }); ok {
		g.RemoveCollider(e)
	}
	w.logger.Debug("collider removed", "collider", e.String(), "key", entry.key.String())
	return nil
}

// SetColliderAABB stores a new tight bound for e. Trees are updated on the
// next UpdateAABBs or Step.
func (w *World) SetColliderAABB(e Entity, bb BB) error {
	const op = "set aabb"
	entry, err := w.entry(op, e)
	if err != nil {
		return err
	}
	if !bb.IsValid() {
		return colliderError(op, e, fmt.Errorf("%w: %v", ErrInvalidAABB, bb))
	}
	entry.aabb = bb
	if !entry.dirty {
		entry.dirty = true
		w.dirty = append(w.dirty, e)
	}
	return nil
}

// TeleportCollider moves e to bb at once and relocates its leaf, without
// waiting for the next update.
func (w *World) TeleportCollider(e Entity, bb BB) error {
	const op = "teleport"
	entry, err := w.entry(op, e)
	if err != nil {
		return err
	}
	if !bb.IsValid() {
		return colliderError(op, e, fmt.Errorf("%w: %v", ErrInvalidAABB, bb))
	}
	entry.aabb = bb
	entry.enlarged = bb
	entry.dirty = false
	w.trees.TreeFor(entry.key).ReinsertProxy(entry.key.Id(), bb)
	w.moved.Insert(entry.key)
	return nil
}

// SetColliderBody attaches e to body, or detaches it when body is NoEntity.
// The proxy moves to another tree when the category changes.
func (w *World) SetColliderBody(e Entity, body Entity, kind BodyKind) error {
	const op = "set body"
	entry, err := w.entry(op, e)
	if err != nil {
		return err
	}

	c := Standalone
	if body != NoEntity {
		c = TreeCategoryForBody(kind)
	}
	if c != entry.key.Category() && w.trees.Tree(c).IsFull() {
		return colliderError(op, e, ErrProxyIdOverflow)
	}
	_, disabled := w.disabledBodies[body]
	disabled = disabled && body != NoEntity

	entry.body, entry.kind = body, kind
	if c == entry.key.Category() {
		p, _ := w.trees.Get(entry.key)
		p.Body = body
		p.Flags = p.Flags.Set(BodyDisabledFlag, disabled)
		return nil
	}

	oldKey := entry.key
	proxy, _ := w.trees.TreeFor(oldKey).RemoveProxy(oldKey.Id())
	w.moved.Remove(oldKey)

	proxy.Body = body
	proxy.Flags = proxy.Flags.Set(BodyDisabledFlag, disabled)
	tree := w.trees.Tree(c)
	entry.key = NewProxyKey(tree.AddProxy(entry.enlarged, proxy), c)
	w.moved.Insert(entry.key)
	w.logger.Debug("collider moved tree", "collider", e.String(), "from", oldKey.String(), "to", entry.key.String())
	return nil
}

// SetSensor marks e as a sensor. Sensor pairs never generate constraints.
func (w *World) SetSensor(e Entity, sensor bool) error {
	return w.updateProxy("set sensor", e, func(p *Proxy) {
		p.Flags = p.Flags.Set(SensorFlag, sensor)
	})
}

func (w *World) SetLayers(e Entity, layers CollisionLayers) error {
	return w.updateProxy("set layers", e, func(p *Proxy) {
		p.Layers = layers
	})
}

// SetActiveHooks selects which hooks run for pairs involving e.
func (w *World) SetActiveHooks(e Entity, hooks ActiveHooks) error {
	return w.updateProxy("set hooks", e, func(p *Proxy) {
		p.Flags = p.Flags.Set(CustomFilterFlag, hooks&FilterPairsHook != 0)
		p.Flags = p.Flags.Set(ModifyContactsFlag, hooks&ModifyContactsHook != 0)
	})
}

func (w *World) SetContactEvents(e Entity, enabled bool) error {
	return w.updateProxy("set contact events", e, func(p *Proxy) {
		p.Flags = p.Flags.Set(ContactEventsFlag, enabled)
	})
}

// SetBodyDisabled flags every collider of body. Pairs with a disabled body
// are still reported but generate no constraints.
func (w *World) SetBodyDisabled(body Entity, disabled bool) {
	if body == NoEntity {
		return
	}
	if disabled {
		w.disabledBodies[body] = struct{}{}
	} else {
		delete(w.disabledBodies, body)
	}
	for _, entry := range w.colliders {
		if entry.body != body {
			continue
		}
		if p, ok := w.trees.Get(entry.key); ok {
			p.Flags = p.Flags.Set(BodyDisabledFlag, disabled)
		}
	}
}

func (w *World) entry(op string, e Entity) (*colliderEntry, error) {
	if w.locked {
		return nil, colliderError(op, e, ErrWorldLocked)
	}
	entry, ok := w.colliders[e]
	if !ok {
		return nil, colliderError(op, e, ErrColliderNotFound)
	}
	return entry, nil
}

func (w *World) updateProxy(op string, e Entity, fn func(p *Proxy)) error {
	entry, err := w.entry(op, e)
	if err != nil {
		return err
	}
	p, ok := w.trees.Get(entry.key)
	if !ok {
		return colliderError(op, e, ErrColliderNotFound)
	}
	fn(p)
	return nil
}

// UpdateAABBs writes the bounds set since the last update into the trees.
// A leaf is only touched when the tight bound escaped its enlarged bound.
func (w *World) UpdateAABBs(ctx context.Context) error {
	if w.locked {
		return ErrWorldLocked
	}
	w.updateAABBs(ctx)
	return nil
}

func (w *World) updateAABBs(ctx context.Context) {
	start := time.Now()

	for c, tree := range w.trees.All() {
		w.enlarged.Reset(c, tree.Capacity())
	}

	for _, e := range w.dirty {
		entry, ok := w.colliders[e]
		if !ok || !entry.dirty {
			continue
		}
		entry.dirty = false

		// The tight bound is always current, even when the leaf stays.
		if p, ok := w.trees.Get(entry.key); ok {
			p.AABB = entry.aabb
		}
		if !entry.enlarged.Contains(entry.aabb) {
			entry.enlarged = entry.aabb.Grow(w.enlargeMargin)
			w.enlarged.Mark(entry.key)
		}
	}
	clear(w.dirty)
	w.dirty = w.dirty[:0]

	count := 0
	for c, tree := range w.trees.All() {
		n := w.enlarged.Count(c)
		if n == 0 {
			continue
		}
		count += n

		// Few changes refit up from each leaf. Many changes refit the whole
		// tree once.
		ratio := float64(n) / float64(tree.Len())
		refitEach := ratio < w.refitThreshold
		w.enlarged.Each(c, func(id ProxyId) {
			p := tree.GetProxyUnchecked(id)
			entry := w.colliders[p.Collider]
			if refitEach {
				tree.ResizeProxyAABB(id, entry.enlarged)
			} else {
				tree.SetProxyAABB(id, entry.enlarged)
			}
			w.moved.Insert(NewProxyKey(id, c))
		})
		if !refitEach {
			tree.RefitAll()
		}
	}

	dur := time.Since(start)
	w.diag.Trees.Update += dur
	w.logger.LogAABBUpdate(ctx, count, dur)
}

// Step runs one broad phase step: bound update, pair collection, tree
// optimization and the narrow phase callback, in that order. The moved set
// is empty afterwards.
func (w *World) Step(ctx context.Context) error {
	if w.locked {
		return ErrWorldLocked
	}
	w.diag.Reset()

	w.updateAABBs(ctx)

	w.locked = true
	defer func() { w.locked = false }()

	w.broadPhase.CollectPairs(ctx, w.trees, w.moved, w.graph, w.joints, w.hooks)
	w.optimizer.BeginOptimize(ctx, w.trees)

	var err error
	if w.narrowPhase != nil {
		start := time.Now()
		err = w.narrowPhase(ctx, w, w.broadPhase.Pairs())
		w.diag.Collision.NarrowPhase += time.Since(start)
	}

	w.optimizer.EndOptimize(ctx, w.trees)

	w.moved.Clear()
	for _, tree := range w.trees.All() {
		tree.ClearMoved()
	}

	if g, ok := w.graph.(interface{ Len() int }); ok {
		w.diag.Collision.ContactCount = uint32(g.Len())
	}
	w.recorder.publish(&w.diag, w.trees)

	if err != nil {
		w.logger.LogError(ctx, "narrow phase", err)
		return fmt.Errorf("narrow phase: %w", err)
	}
	return nil
}
