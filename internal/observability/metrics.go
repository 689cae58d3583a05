package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the weather & alert store.
type Metrics struct {
	WritesTotal        *prometheus.CounterVec // labels: kind={observation,forecast,alert_create,alert_update}, outcome={ok,rejected,conflict,error}
	ValidationFailures *prometheus.CounterVec // labels: field
	AlertTransitions   *prometheus.CounterVec // labels: to={EXPIRED,CANCELLED}

	PollDuration  prometheus.Histogram
	PollerRunning prometheus.Gauge
}

// NewMetrics creates and registers all store metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_store",
			Name:      "writes_total",
			Help:      "Write attempts by record kind and outcome.",
		}, []string{"kind", "outcome"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_store",
			Name:      "validation_failures_total",
			Help:      "Rejected writes by offending field.",
		}, []string{"field"}),
		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_store",
			Name:      "alert_transitions_total",
			Help:      "Alert status transitions by target status.",
		}, []string{"to"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weather_store",
			Name:      "provider_poll_duration_seconds",
			Help:      "Duration of one weather-provider poll cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PollerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_store",
			Name:      "poller_running",
			Help:      "1 when the provider poller is active, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.WritesTotal,
		m.ValidationFailures,
		m.AlertTransitions,
		m.PollDuration,
		m.PollerRunning,
	)
	return m
}
