// Package prom adapts genstore.Metrics onto Prometheus, generalizing the
// teacher's metrics/prom adapter (originally for cache.Metrics/EvictReason)
// to the two-generation store's Hit/Miss/Promote/Collect/Size vocabulary.
package prom

import (
	"github.com/IvanBrykalov/genstore"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements genstore.Metrics and exports Prometheus
// counters/gauges. Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	promotes prometheus.Counter
	collects *prometheus.CounterVec
	sizeGen0 prometheus.Gauge
	sizeGen1 prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits (Gen0 or Gen1)",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Lookups absent from both generations",
			ConstLabels: constLabels,
		}),
		promotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "promotions_total",
			Help:        "Gen1 hits promoted back into Gen0",
			ConstLabels: constLabels,
		}),
		collects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "collections_total",
				Help:        "Generational collections by trigger reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeGen0: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "gen0_size",
			Help:        "Resident entries in the young generation",
			ConstLabels: constLabels,
		}),
		sizeGen1: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "gen1_size",
			Help:        "Resident entries in the old generation",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.promotes, a.collects, a.sizeGen0, a.sizeGen1)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Promote increments the promotion counter.
func (a *Adapter) Promote() { a.promotes.Inc() }

// Collect increments the collection counter with a reason label.
func (a *Adapter) Collect(reason genstore.CollectReason) {
	a.collects.WithLabelValues(reason.String()).Inc()
}

// Size updates the Gen0/Gen1 size gauges.
func (a *Adapter) Size(gen0, gen1 int) {
	a.sizeGen0.Set(float64(gen0))
	a.sizeGen1.Set(float64(gen1))
}

// Compile-time check: ensure Adapter implements genstore.Metrics.
var _ genstore.Metrics = (*Adapter)(nil)
