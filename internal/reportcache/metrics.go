package reportcache

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes cache effectiveness and report computation cost.
type Metrics struct {
	hits    *prometheus.CounterVec
	misses  *prometheus.CounterVec
	compute *prometheus.HistogramVec
}

// NewMetrics registers the cache collectors against reg. Collectors already
// registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_report_cache_hits_total",
			Help: "Number of report cache hits.",
		}, []string{"report"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_report_cache_misses_total",
			Help: "Number of report cache misses.",
		}, []string{"report"}),
		compute: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_report_compute_duration_seconds",
			Help:    "Duration required to compute reports, labelled by performance tier.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"report", "tier"}),
	}
	m.hits = registerCounter(reg, m.hits)
	m.misses = registerCounter(reg, m.misses)
	if err := reg.Register(m.compute); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.compute = existing
			}
		}
	}
	return m
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) hit(report string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(report).Inc()
}

func (m *Metrics) miss(report string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(report).Inc()
}

// ObserveCompute records how long a report took and the tier it landed in.
func (m *Metrics) ObserveCompute(report, tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.compute.WithLabelValues(report, tier).Observe(d.Seconds())
}
