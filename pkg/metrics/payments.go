package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by payment metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
)

// PaymentMetrics records orchestrator operations and webhook reconciliation.
type PaymentMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	webhooks   *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_operation_total",
		Help: "Payment operations by outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_operation_duration_seconds",
		Help:    "Duration of payment operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhook_events_total",
		Help: "Processor webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(operations, duration, webhooks)
	return &PaymentMetrics{
		operations: operations,
		duration:   duration,
		webhooks:   webhooks,
	}
}

// ObserveOperation records one orchestrator call.
func (m *PaymentMetrics) ObserveOperation(operation string, started time.Time, err error) {
	if m == nil || m.operations == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	op := normalizeLabel(operation)
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// IncWebhookEvent counts one webhook event.
func (m *PaymentMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
