package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the cache layer. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	invalidations prometheus.Counter
}

// NewMetrics creates and registers cache metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_cache_hits_total",
			Help: "Cache hits by use case.",
		}, []string{"use_case"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_cache_misses_total",
			Help: "Cache misses by use case.",
		}, []string{"use_case"}),
		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_cache_invalidated_tags_total",
			Help: "Entity-type tags purged by commit invalidation.",
		}),
	}
}

func (m *Metrics) hit(useCase string) {
	if m != nil {
		m.hits.WithLabelValues(useCase).Inc()
	}
}

func (m *Metrics) miss(useCase string) {
	if m != nil {
		m.misses.WithLabelValues(useCase).Inc()
	}
}

func (m *Metrics) invalidated(tags int) {
	if m != nil {
		m.invalidations.Add(float64(tags))
	}
}
