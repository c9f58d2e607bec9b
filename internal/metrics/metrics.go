package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch metrics for Prometheus monitoring.
var (
	WebhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Total number of webhook deliveries received by event type",
		},
		[]string{"event"},
	)

	WebhooksHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_handled_total",
			Help: "Total number of webhook deliveries by outcome",
		},
		[]string{"outcome"}, // dispatched, ignored, rejected, error
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total number of email dispatch attempts by result",
		},
		[]string{"result"}, // sent, failed
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_send_duration_seconds",
			Help:    "Duration of a single email dispatch including token exchange",
			Buckets: prometheus.DefBuckets,
		},
	)
)
