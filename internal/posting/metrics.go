package posting

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Metrics counts posting outcomes.
type Metrics struct {
	postings *prometheus.CounterVec
}

// NewMetrics registers the posting counter against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_postings_total",
		Help: "Posting attempts partitioned by transaction type and outcome.",
	}, []string{"type", "outcome"})
	if err := registerer.Register(postings); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				postings = existing
			}
		}
	}
	return &Metrics{postings: postings}
}

func (m *Metrics) observe(txType string, err error) {
	if m == nil || m.postings == nil {
		return
	}
	outcome := "posted"
	if err != nil {
		outcome = strings.ToLower(string(shared.KindOf(err)))
	}
	m.postings.WithLabelValues(txType, outcome).Inc()
}

func (m *Metrics) replayed(txType string) {
	if m == nil || m.postings == nil {
		return
	}
	m.postings.WithLabelValues(txType, "replayed").Inc()
}
