package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the dispatcher.
type Metrics struct {
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates and registers dispatcher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keel_dispatches_total",
			Help: "Dispatches by use case and outcome.",
		}, []string{"use_case", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keel_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration by use case.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
	}
}

// Observe wraps the chain with dispatch counters and latency histograms.
func Observe(m *Metrics) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			start := time.Now()
			result, err := next.Handle(ctx, req)
			m.duration.WithLabelValues(req.UseCase()).Observe(time.Since(start).Seconds())
			m.dispatches.WithLabelValues(req.UseCase(), statusLabel(err)).Inc()
			return result, err
		})
	}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isValidation(err):
		return "invalid"
	default:
		return "error"
	}
}

func isValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
