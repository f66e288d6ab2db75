// Package prom exports cache and poller events as Prometheus metrics.
package prom

import (
	"github.com/colthorp/mirror-explorer-go/internal/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	loads        *prometheus.CounterVec
	entries      *prometheus.GaugeVec
	pollFetches  *prometheus.CounterVec
	pollerStates *prometheus.GaugeVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns:           Prometheus namespace
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Lookups answered from a resolved entry",
			ConstLabels: constLabels,
		}, []string{"cache"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Lookups that started a fetch",
			ConstLabels: constLabels,
		}, []string{"cache"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "loads_total",
			Help:        "Resolved misses by outcome",
			ConstLabels: constLabels,
		}, []string{"cache", "outcome"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}, []string{"cache"}),
		pollFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "poller",
			Name:        "fetches_total",
			Help:        "Completed poller fetches by result",
			ConstLabels: constLabels,
		}, []string{"poller", "result"}),
		pollerStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "poller",
			Name:        "state",
			Help:        "Current poller state (0 stopped, 1 started, 2 auto-stopped)",
			ConstLabels: constLabels,
		}, []string{"poller"}),
	}
	reg.MustRegister(a.hits, a.misses, a.loads, a.entries, a.pollFetches, a.pollerStates)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit(name string) { a.hits.WithLabelValues(name).Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss(name string) { a.misses.WithLabelValues(name).Inc() }

// Load counts a resolved miss with its outcome label.
func (a *Adapter) Load(name string, o cache.LoadOutcome) {
	a.loads.WithLabelValues(name, o.String()).Inc()
}

// Size updates the resident entry gauge.
func (a *Adapter) Size(name string, entries int) {
	a.entries.WithLabelValues(name).Set(float64(entries))
}

// PollerFetch counts a completed poller fetch.
func (a *Adapter) PollerFetch(name string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	a.pollFetches.WithLabelValues(name, result).Inc()
}

// PollerState records the poller's current state.
func (a *Adapter) PollerState(name string, s cache.PollingState) {
	a.pollerStates.WithLabelValues(name).Set(float64(s))
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
