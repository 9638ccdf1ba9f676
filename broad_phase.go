package ctree

import (
	"context"
	"runtime"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"
)

const defaultBroadPhaseChunkSize = 64

type keyPair struct {
	key1, key2 ProxyKey
}

// BroadPhase finds new collider pairs whose bounds overlap, starting from the
// proxies that moved this step.
//
// Queries run on several goroutines, so the ContactGraph, JointGraph and
// CollisionHooks passed to CollectPairs must tolerate concurrent reads.
type BroadPhase struct {
	chunkSize   int
	parallelism int
	logger      *Logger
	diag        *CollisionDiagnostics

	seen  *roaring64.Bitmap
	pairs []ContactPair
}

// NewBroadPhase returns a BroadPhase. Non-positive sizes use the defaults.
func NewBroadPhase(chunkSize, parallelism int, logger *Logger, diag *CollisionDiagnostics) *BroadPhase {
	if chunkSize <= 0 {
		chunkSize = defaultBroadPhaseChunkSize
	}
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = NoopLogger()
	}
	if diag == nil {
		diag = &CollisionDiagnostics{}
	}
	return &BroadPhase{
		chunkSize:   chunkSize,
		parallelism: parallelism,
		logger:      logger,
		diag:        diag,
		seen:        roaring64.New(),
	}
}

// Pairs returns the pairs added by the last CollectPairs call.
func (bp *BroadPhase) Pairs() []ContactPair { return bp.pairs }

// CollectPairs queries every tree with the tight bound of each moved proxy and
// adds the new pairs to graph. joints and hooks may be nil. It returns how
// many pairs were added.
func (bp *BroadPhase) CollectPairs(
	ctx context.Context,
	trees *ColliderTrees,
	moved *MovedProxies,
	graph ContactGraph,
	joints JointGraph,
	hooks CollisionHooks,
) int {
	start := time.Now()
	defer func() { bp.diag.BroadPhase += time.Since(start) }()

	bp.pairs = bp.pairs[:0]
	bp.seen.Clear()

	keys := moved.Keys()
	if len(keys) == 0 {
		return 0
	}

	chunks := make([][]keyPair, (len(keys)+bp.chunkSize-1)/bp.chunkSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.parallelism)
	for i := range chunks {
		lo := i * bp.chunkSize
		hi := min(lo+bp.chunkSize, len(keys))
		g.Go(func() error {
			q := pairQuery{trees: trees, moved: moved, graph: graph, joints: joints, hooks: hooks}
			for _, key := range keys[lo:hi] {
				if err := gctx.Err(); err != nil {
					return err
				}
				q.collect(key)
			}
			chunks[i] = q.out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		bp.logger.LogError(ctx, "broad phase", err)
		return 0
	}

	for _, chunk := range chunks {
		for _, kp := range chunk {
			p1, _ := trees.Get(kp.key1)
			p2, _ := trees.Get(kp.key2)
			key := NewPairKey(p1.Collider.Index(), p2.Collider.Index())
			if !bp.seen.CheckedAdd(uint64(key)) {
				continue
			}
			pair := newContactPair(p1, p2)
			graph.AddPair(pair)
			bp.pairs = append(bp.pairs, pair)
		}
	}

	bp.logger.LogBroadPhase(ctx, len(keys), len(bp.pairs), time.Since(start))
	return len(bp.pairs)
}

func newContactPair(p1, p2 *Proxy) ContactPair {
	union := p1.Flags | p2.Flags
	var flags ContactPairFlags
	if union.Has(ContactEventsFlag) {
		flags |= ContactEventsPairFlag
	}
	if union.Has(ModifyContactsFlag) {
		flags |= ModifyContactsPairFlag
	}
	if !union.Has(BodyDisabledFlag) && !union.Has(SensorFlag) {
		flags |= GenerateConstraintsPairFlag
	}
	return ContactPair{
		Collider1: p1.Collider,
		Collider2: p2.Collider,
		Body1:     p1.Body,
		Body2:     p2.Body,
		Flags:     flags,
	}
}

// pairQuery is the per-goroutine state of CollectPairs.
type pairQuery struct {
	trees  *ColliderTrees
	moved  *MovedProxies
	graph  ContactGraph
	joints JointGraph
	hooks  CollisionHooks
	out    []keyPair
}

func (q *pairQuery) collect(key1 ProxyKey) {
	proxy1, ok := q.trees.Get(key1)
	if !ok {
		return
	}
	category1 := key1.Category()

	q.queryTree(Dynamic, key1, proxy1)
	q.queryTree(Kinematic, key1, proxy1)
	// Static bodies never collide with each other, but static sensors see
	// static bodies.
	if category1 != Static || proxy1.IsSensor() {
		q.queryTree(Static, key1, proxy1)
	}
	q.queryTree(Standalone, key1, proxy1)
}

func (q *pairQuery) queryTree(category TreeCategory, key1 ProxyKey, proxy1 *Proxy) {
	tree := q.trees.Tree(category)
	id1, category1 := key1.Decode()

	tree.AABBTraverse(proxy1.AABB, func(id2 ProxyId) bool {
		key2 := NewProxyKey(id2, category)
		if key1 == key2 {
			return true
		}
		proxy2 := tree.GetProxyUnchecked(id2)

		// When both proxies moved, only the smaller key reports the pair.
		// Sensors always report.
		proxy1Greater := category < category1 || (category == category1 && id2 < id1)
		if proxy1Greater && q.moved.Contains(key2) && !proxy1.IsSensor() {
			return true
		}

		if !proxy1.Layers.InteractsWith(proxy2.Layers) {
			return true
		}
		if proxy1.SharesBody(proxy2) {
			return true
		}
		if q.graph.ContainsPair(NewPairKey(proxy1.Collider.Index(), proxy2.Collider.Index())) {
			return true
		}
		if q.joints != nil && proxy1.HasBody() && proxy2.HasBody() &&
			q.joints.CollisionDisabled(proxy1.Body, proxy2.Body) {
			return true
		}
		if q.hooks != nil && (proxy1.Flags|proxy2.Flags).Has(CustomFilterFlag) &&
			!q.hooks.FilterPairs(proxy1.Collider, proxy2.Collider) {
			return true
		}

		q.out = append(q.out, keyPair{key1, key2})
		return true
	})
}
