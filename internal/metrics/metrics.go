package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sealchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Messaging metrics
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sealchat_messages_appended_total",
			Help: "Envelopes persisted on first write",
		},
	)

	DuplicateSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sealchat_duplicate_sends_total",
			Help: "Sends deduplicated by idempotency key",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealchat_events_published_total",
			Help: "Fan-out events published to the broker",
		},
		[]string{"type"},
	)

	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sealchat_live_subscribers",
			Help: "Currently registered realtime sinks",
		},
	)

	SinksReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sealchat_sinks_reaped_total",
			Help: "Dead or slow sinks dropped during fan-out",
		},
	)

	EnvelopesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sealchat_envelopes_purged_total",
			Help: "Envelopes removed by the ephemeral retention sweeper",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sealchat_rate_limit_hits_total",
			Help: "Sends rejected by the quota limiter",
		},
	)
)
