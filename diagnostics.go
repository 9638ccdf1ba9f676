package ctree

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ColliderTreeDiagnostics times tree maintenance.
type ColliderTreeDiagnostics struct {
	// Optimize is the time spent starting and finishing optimization passes.
	Optimize time.Duration
	// Update is the time spent writing new bounds into the trees.
	Update time.Duration
}

// CollisionDiagnostics times collision detection.
type CollisionDiagnostics struct {
	BroadPhase   time.Duration
	NarrowPhase  time.Duration
	ContactCount uint32
}

// Diagnostics groups the timers of one step.
type Diagnostics struct {
	Trees     ColliderTreeDiagnostics
	Collision CollisionDiagnostics
}

// Reset zeroes every timer.
func (d *Diagnostics) Reset() { *d = Diagnostics{} }

// add accumulates the durations of o. ContactCount is taken from o.
func (d *Diagnostics) add(o *Diagnostics) {
	d.Trees.Optimize += o.Trees.Optimize
	d.Trees.Update += o.Trees.Update
	d.Collision.BroadPhase += o.Collision.BroadPhase
	d.Collision.NarrowPhase += o.Collision.NarrowPhase
	d.Collision.ContactCount = o.Collision.ContactCount
}

// diagnosticsRecorder publishes step diagnostics for readers on other
// goroutines.
type diagnosticsRecorder struct {
	mu      sync.Mutex
	last    Diagnostics
	totals  Diagnostics
	proxies [4]int
}

func (r *diagnosticsRecorder) publish(step *Diagnostics, trees *ColliderTrees) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = *step
	r.totals.add(step)
	for c, t := range trees.All() {
		r.proxies[c] = t.Len()
	}
}

func (r *diagnosticsRecorder) snapshot() (last, totals Diagnostics, proxies [4]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.totals, r.proxies
}

// MetricsCollector exports World diagnostics to Prometheus.
type MetricsCollector struct {
	rec *diagnosticsRecorder

	optimizeSeconds    *prometheus.Desc
	updateSeconds      *prometheus.Desc
	broadPhaseSeconds  *prometheus.Desc
	narrowPhaseSeconds *prometheus.Desc
	contactCount       *prometheus.Desc
	proxies            *prometheus.Desc
}

func newMetricsCollector(rec *diagnosticsRecorder) *MetricsCollector {
	return &MetricsCollector{
		rec: rec,
		optimizeSeconds: prometheus.NewDesc("ctree_optimize_seconds_total",
			"Time spent optimizing collider trees", nil, nil),
		updateSeconds: prometheus.NewDesc("ctree_update_seconds_total",
			"Time spent updating collider tree bounds", nil, nil),
		broadPhaseSeconds: prometheus.NewDesc("ctree_broad_phase_seconds_total",
			"Time spent collecting broad phase pairs", nil, nil),
		narrowPhaseSeconds: prometheus.NewDesc("ctree_narrow_phase_seconds_total",
			"Time spent in the narrow phase callback", nil, nil),
		contactCount: prometheus.NewDesc("ctree_contacts",
			"Pairs in the contact graph after the last step", nil, nil),
		proxies: prometheus.NewDesc("ctree_proxies",
			"Proxies per collider tree", []string{"category"}, nil),
	}
}

func (m *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.optimizeSeconds
	ch <- m.updateSeconds
	ch <- m.broadPhaseSeconds
	ch <- m.narrowPhaseSeconds
	ch <- m.contactCount
	ch <- m.proxies
}

func (m *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	last, totals, proxies := m.rec.snapshot()

	ch <- prometheus.MustNewConstMetric(m.optimizeSeconds, prometheus.CounterValue, totals.Trees.Optimize.Seconds())
	ch <- prometheus.MustNewConstMetric(m.updateSeconds, prometheus.CounterValue, totals.Trees.Update.Seconds())
	ch <- prometheus.MustNewConstMetric(m.broadPhaseSeconds, prometheus.CounterValue, totals.Collision.BroadPhase.Seconds())
	ch <- prometheus.MustNewConstMetric(m.narrowPhaseSeconds, prometheus.CounterValue, totals.Collision.NarrowPhase.Seconds())
	ch <- prometheus.MustNewConstMetric(m.contactCount, prometheus.GaugeValue, float64(last.Collision.ContactCount))
	for _, c := range TreeCategories {
		ch <- prometheus.MustNewConstMetric(m.proxies, prometheus.GaugeValue, float64(proxies[c]), c.String())
	}
}
