// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorbot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEventsTotal tracks inbound webhook events by channel and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorbot_webhook_events_total",
			Help: "Inbound webhook events by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// DedupHitsTotal counts redelivered inbound messages.
	DedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorbot_dedup_hits_total",
			Help: "Inbound messages dropped as duplicates",
		},
		[]string{"layer"},
	)

	// TransitionsTotal tracks dialogue transitions by pending intent and input class.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorbot_transitions_total",
			Help: "Dialogue transitions by pending intent and input class",
		},
		[]string{"intent", "class"},
	)

	// HandoffsTotal tracks human handoffs by reason.
	HandoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorbot_handoffs_total",
			Help: "Human handoffs by reason",
		},
		[]string{"reason"},
	)

	// ExternalCallRetriesTotal counts retried external calls by operation.
	ExternalCallRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorbot_external_call_retries_total",
			Help: "Retried external calls by operation",
		},
		[]string{"op"},
	)

	// EventsDroppedTotal counts inbound events dropped after a fatal store failure.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorbot_events_dropped_total",
			Help: "Inbound events dropped because the attribute store was unreachable",
		},
	)

	// OutboxDeliveriesTotal tracks outbox delivery attempts by result.
	OutboxDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorbot_outbox_deliveries_total",
			Help: "Outbox delivery attempts by result",
		},
		[]string{"result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordWebhook records the outcome of one webhook delivery.
func RecordWebhook(channel, outcome string) {
	WebhookEventsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordTransition records one dialogue transition.
func RecordTransition(intent, class string) {
	if intent == "" {
		intent = "none"
	}
	TransitionsTotal.WithLabelValues(intent, class).Inc()
}

// RecordOutboxResult records the result of one outbox delivery attempt.
func RecordOutboxResult(sent bool) {
	if sent {
		OutboxDeliveriesTotal.WithLabelValues("sent").Inc()
		return
	}
	OutboxDeliveriesTotal.WithLabelValues("failed").Inc()
}
