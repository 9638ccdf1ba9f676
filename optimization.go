package ctree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// TreeOptimizationMode selects how a ColliderTree is optimized after its
// proxies move.
type TreeOptimizationMode uint8

const (
	// ModeAdaptive picks one of the other modes from the moved ratio.
	ModeAdaptive TreeOptimizationMode = iota
	// ModeReinsert relocates only the moved leaves. Cheapest for few moves.
	ModeReinsert
	// ModePartialRebuild rebuilds the paths from the moved leaves to the root.
	ModePartialRebuild
	// ModeFullRebuild rebuilds the whole hierarchy.
	ModeFullRebuild
)

func (m TreeOptimizationMode) String() string {
	switch m {
	case ModeAdaptive:
		return "adaptive"
	case ModeReinsert:
		return "reinsert"
	case ModePartialRebuild:
		return "partial_rebuild"
	case ModeFullRebuild:
		return "full_rebuild"
	}
	return fmt.Sprintf("TreeOptimizationMode(%d)", uint8(m))
}

// OptimizationSettings configures tree optimization.
type OptimizationSettings struct {
	Mode TreeOptimizationMode
	// Below this moved ratio ModeAdaptive reinserts.
	ReinsertThreshold float64
	// Below this moved ratio ModeAdaptive rebuilds partially, else fully.
	PartialRebuildThreshold float64
	// UseAsyncTasks runs optimization on background goroutines between
	// BeginOptimize and EndOptimize.
	UseAsyncTasks bool
	// OptimizeInPlace hands the live hierarchy to the background task instead
	// of a clone. Queries see an empty tree until EndOptimize.
	OptimizeInPlace bool
}

// DefaultOptimizationSettings returns adaptive, synchronous settings.
func DefaultOptimizationSettings() OptimizationSettings {
	return OptimizationSettings{
		Mode:                    ModeAdaptive,
		ReinsertThreshold:       0.15,
		PartialRebuildThreshold: 0.45,
	}
}

// Resolve returns the concrete mode for the given moved/total ratio.
func (s OptimizationSettings) Resolve(movedRatio float64) TreeOptimizationMode {
	if s.Mode != ModeAdaptive {
		return s.Mode
	}
	switch {
	case movedRatio < s.ReinsertThreshold:
		return ModeReinsert
	case movedRatio < s.PartialRebuildThreshold:
		return ModePartialRebuild
	default:
		return ModeFullRebuild
	}
}

// optimizationCommand applies the result of a background pass.
type optimizationCommand func(trees *ColliderTrees)

// Optimizer runs per-step tree optimization, optionally in the background.
type Optimizer struct {
	settings OptimizationSettings
	logger   *Logger
	diag     *ColliderTreeDiagnostics

	group    *errgroup.Group
	mu       sync.Mutex
	commands []optimizationCommand
}

// NewOptimizer returns an Optimizer. diag may be nil.
func NewOptimizer(settings OptimizationSettings, logger *Logger, diag *ColliderTreeDiagnostics) *Optimizer {
	if logger == nil {
		logger = NoopLogger()
	}
	if diag == nil {
		diag = &ColliderTreeDiagnostics{}
	}
	return &Optimizer{settings: settings, logger: logger, diag: diag}
}

func (o *Optimizer) Settings() OptimizationSettings { return o.settings }

// SetSettings replaces the settings. It must not be called while a pass is
// pending.
func (o *Optimizer) SetSettings(s OptimizationSettings) { o.settings = s }

// Pending reports whether background passes await EndOptimize.
func (o *Optimizer) Pending() bool { return o.group != nil }

// BeginOptimize starts one pass per tree with moved proxies. In synchronous
// mode every pass is finished on return. The trees must not be mutated until
// EndOptimize returns.
func (o *Optimizer) BeginOptimize(ctx context.Context, trees *ColliderTrees) {
	start := time.Now()
	async := o.settings.UseAsyncTasks
	if async && o.group == nil {
		o.group, _ = errgroup.WithContext(ctx)
	}

	for c, tree := range trees.All() {
		total := tree.Len()
		if total == 0 {
			tree.ClearMoved()
			continue
		}
		ratio := float64(len(tree.moved)) / float64(total)
		mode := o.settings.Resolve(ratio)
		if ratio == 0 && mode != ModeFullRebuild {
			continue
		}

		moved := tree.takeMoved()
		o.logger.LogOptimize(ctx, c, mode, len(moved), total, async)

		if !async {
			o.optimize(ctx, c, tree.bvh, mode, moved)
			continue
		}

		var bvh *BVH
		if o.settings.OptimizeInPlace {
			bvh = tree.bvh
			tree.bvh = NewBVH()
		} else {
			bvh = tree.bvh.Clone()
		}
		o.group.Go(func() error {
			// A cancelled pass still returns the hierarchy it took.
			if ctx.Err() == nil {
				o.optimize(ctx, c, bvh, mode, moved)
			}
			o.mu.Lock()
			o.commands = append(o.commands, func(trees *ColliderTrees) {
				trees.Tree(c).bvh = bvh
			})
			o.mu.Unlock()
			return nil
		})
	}

	o.diag.Optimize += time.Since(start)
}

// EndOptimize waits for background passes and swaps their hierarchies in.
// It is a no-op when nothing is pending.
func (o *Optimizer) EndOptimize(ctx context.Context, trees *ColliderTrees) {
	if o.group == nil {
		return
	}
	start := time.Now()

	// Passes never fail.
	_ = o.group.Wait()
	o.group = nil

	for _, cmd := range o.commands {
		cmd(trees)
	}
	clear(o.commands)
	o.commands = o.commands[:0]

	o.diag.Optimize += time.Since(start)
	o.logger.DebugContext(ctx, "tree optimize finished", "duration", time.Since(start))
}

func (o *Optimizer) optimize(ctx context.Context, c TreeCategory, bvh *BVH, mode TreeOptimizationMode, moved []ProxyId) {
	start := time.Now()
	optimizeBVH(bvh, mode, moved)
	if mode == ModePartialRebuild || mode == ModeFullRebuild {
		o.logger.WithCategory(c).LogTreeRebuild(ctx, mode.String(), bvh.Len(), time.Since(start))
	}
}

func optimizeBVH(bvh *BVH, mode TreeOptimizationMode, moved []ProxyId) {
	switch mode {
	case ModeReinsert:
		bvh.OptimizeCandidates(moved, 1)
	case ModePartialRebuild:
		bvh.RebuildPartial(moved)
	case ModeFullRebuild:
		bvh.RebuildFull()
	}
}
