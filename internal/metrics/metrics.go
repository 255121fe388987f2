package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "integration_hub"
)

var (
	refreshSweepBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

	// Connector Metrics
	ConnectorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_requests_total",
		Help:      "Count of authenticated requests sent to third-party services.",
	}, []string{"integration", "status"})

	ConnectorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "connector_request_duration_seconds",
		Help:      "Time taken by authenticated requests to third-party services.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"integration"})

	AuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_total",
		Help:      "Count of connector auth lifecycle events.",
	}, []string{"integration", "event"})

	RefreshCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_coalesced_total",
		Help:      "Count of refresh calls satisfied by a concurrent or already completed refresh.",
	}, []string{"integration"})

	// Webhook Metrics
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Count of webhook lifecycle events.",
	}, []string{"integration", "event"})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_rejected_total",
		Help:      "Count of inbound webhook deliveries rejected before dispatch.",
	}, []string{"reason"})

	WebhookDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_dispatch_duration_seconds",
		Help:      "Time taken by webhook handlers.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"integration"})

	WebhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "webhook_queue_depth",
		Help:      "Number of verified webhook payloads waiting for dispatch.",
	})

	// Refresher Metrics
	RefreshSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_sweep_duration_seconds",
		Help:      "Time taken for a proactive token refresh sweep.",
		Buckets:   refreshSweepBuckets,
	})

	RefreshSweepConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_sweep_connections_total",
		Help:      "Count of connections handled by proactive refresh sweeps.",
	}, []string{"integration", "status"})

	RefreshLastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "refresh_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last refresh sweep without failures.",
	})
)
