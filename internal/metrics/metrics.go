// Package metrics exposes Prometheus collectors for quota decisions and
// webhook delivery outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the service's Prometheus collectors.
type Metrics struct {
	quotaDecisions   *prometheus.CounterVec
	quotaWarnings    *prometheus.CounterVec
	deliveryOutcomes *prometheus.CounterVec
	deliveryAttempts prometheus.Counter
	eventsPublished  *prometheus.CounterVec
	alertEvaluations *prometheus.CounterVec
	consumeDuration  prometheus.Histogram
}

// New registers the collectors with the given registerer and returns the
// recorder. Pass a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		quotaDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akm_quota_decisions_total",
				Help: "Quota check outcomes by decision and breached window",
			},
			[]string{"decision", "window"},
		),

		quotaWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akm_quota_warnings_total",
				Help: "Warning-threshold crossings by window kind",
			},
			[]string{"window"},
		),

		deliveryOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akm_webhook_deliveries_total",
				Help: "Webhook delivery terminal outcomes",
			},
			[]string{"outcome"},
		),

		deliveryAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "akm_webhook_delivery_attempts_total",
				Help: "Individual webhook POST attempts, including retries",
			},
		),

		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akm_events_published_total",
				Help: "Events published to the internal bus by type",
			},
			[]string{"event_type"},
		),

		alertEvaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akm_alert_evaluations_total",
				Help: "Alert rule evaluations by outcome",
			},
			[]string{"outcome"},
		),

		consumeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "akm_quota_consume_duration_seconds",
				Help:    "Duration of the atomic multi-window consume",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~400ms
			},
		),
	}
}

// RecordQuotaDecision records an allow or deny. window is the breached
// window kind on deny, empty on allow.
func (m *Metrics) RecordQuotaDecision(allowed bool, window string) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	m.quotaDecisions.WithLabelValues(decision, window).Inc()
}

// RecordQuotaWarning records a warning-threshold crossing.
func (m *Metrics) RecordQuotaWarning(window string) {
	m.quotaWarnings.WithLabelValues(window).Inc()
}

// RecordDeliveryOutcome records a terminal delivery state.
func (m *Metrics) RecordDeliveryOutcome(outcome string) {
	m.deliveryOutcomes.WithLabelValues(outcome).Inc()
}

// RecordDeliveryAttempt records one webhook POST attempt.
func (m *Metrics) RecordDeliveryAttempt() {
	m.deliveryAttempts.Inc()
}

// RecordEventPublished records a bus publish.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordAlertEvaluation records a rule evaluation outcome
// (triggered, suppressed or clear).
func (m *Metrics) RecordAlertEvaluation(outcome string) {
	m.alertEvaluations.WithLabelValues(outcome).Inc()
}

// ObserveConsumeDuration records how long a consume transaction took.
func (m *Metrics) ObserveConsumeDuration(seconds float64) {
	m.consumeDuration.Observe(seconds)
}
