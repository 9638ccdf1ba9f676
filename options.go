package ctree

import (
	"context"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultEnlargeMargin  = 0.05
	defaultRefitThreshold = 0.1
)

// NarrowPhaseFunc runs between BeginOptimize and EndOptimize of a step with
// the pairs the broad phase added. It must not mutate the World.
type NarrowPhaseFunc func(ctx context.Context, w *World, pairs []ContactPair) error

type options struct {
	logger         *Logger
	optimization   OptimizationSettings
	enlargeMargin  float64
	refitThreshold float64
	graph          ContactGraph
	joints         JointGraph
	hooks          CollisionHooks
	narrowPhase    NarrowPhaseFunc
	chunkSize      int
	parallelism    int
	registerer     prometheus.Registerer
}

func defaultOptions() options {
	return options{
		logger:         NoopLogger(),
		optimization:   DefaultOptimizationSettings(),
		enlargeMargin:  defaultEnlargeMargin,
		refitThreshold: defaultRefitThreshold,
		chunkSize:      defaultBroadPhaseChunkSize,
		parallelism:    runtime.GOMAXPROCS(0),
	}
}

// Option configures a World.
type Option func(*options)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithOptimization replaces the tree optimization settings.
func WithOptimization(s OptimizationSettings) Option {
	return func(o *options) {
		o.optimization = s
	}
}

// WithAsyncOptimization runs tree optimization on background goroutines
// while the narrow phase runs.
//
// With inPlace set, the live hierarchy is handed to the background task, so
// queries made from the narrow phase callback find nothing. Otherwise the
// task works on a clone.
func WithAsyncOptimization(inPlace bool) Option {
	return func(o *options) {
		o.optimization.UseAsyncTasks = true
		o.optimization.OptimizeInPlace = inPlace
	}
}

// WithEnlargeMargin sets how far leaf bounds are grown past the tight AABB.
// Larger margins mean fewer tree updates and more broad phase candidates.
func WithEnlargeMargin(margin float64) Option {
	return func(o *options) {
		if margin >= 0 {
			o.enlargeMargin = margin
		}
	}
}

// WithRefitThreshold sets the enlarged/total ratio at and above which a tree
// is refit once instead of per proxy.
func WithRefitThreshold(ratio float64) Option {
	return func(o *options) {
		o.refitThreshold = ratio
	}
}

// WithContactGraph replaces the default PairSet.
func WithContactGraph(g ContactGraph) Option {
	return func(o *options) {
		o.graph = g
	}
}

// WithJointGraph replaces the default JointSet.
func WithJointGraph(j JointGraph) Option {
	return func(o *options) {
		o.joints = j
	}
}

// WithCollisionHooks installs the pair filter hook.
func WithCollisionHooks(h CollisionHooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// WithNarrowPhase installs the callback run during Step.
func WithNarrowPhase(fn NarrowPhaseFunc) Option {
	return func(o *options) {
		o.narrowPhase = fn
	}
}

// WithBroadPhaseChunkSize sets how many moved proxies one broad phase task
// handles.
func WithBroadPhaseChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithParallelism caps the broad phase goroutines.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithMetricsRegisterer registers the World's MetricsCollector with r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}
