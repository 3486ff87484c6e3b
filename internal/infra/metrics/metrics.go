package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's counters. Webhook results: processed,
// duplicate, skipped, unknown_product, write_failed.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	quotaDenials    *prometheus.CounterVec
	cascadeFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Billing webhook events by provider and processing result.",
		}, []string{"provider", "result"}),
		quotaDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_denials_total",
			Help: "Metered feature calls denied by the rate limiter.",
		}, []string{"action"}),
		cascadeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cascade_failures_total",
			Help: "Partner cascade writes that failed after a primary state write.",
		}),
	}
}

func (m *Metrics) WebhookEvent(provider, result string) {
	m.webhookEvents.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) QuotaDenied(action string) {
	m.quotaDenials.WithLabelValues(action).Inc()
}

func (m *Metrics) CascadeFailure() {
	m.cascadeFailures.Inc()
}
