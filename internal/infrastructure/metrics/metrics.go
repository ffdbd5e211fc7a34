package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketchat_rooms_created_total",
			Help: "Total chat rooms created on first contact",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_messages_sent_total",
			Help: "Total messages appended",
		},
		[]string{"type"},
	)

	OfferTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_offer_transitions_total",
			Help: "Total offer status changes",
		},
		[]string{"status"},
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketchat_notification_failures_total",
			Help: "Notifications that failed after a successful send",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"action"},
	)

	// Realtime metrics
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketchat_active_subscriptions",
			Help: "Open websocket subscriptions",
		},
		[]string{"kind"},
	)

	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketchat_websocket_connections",
			Help: "Open websocket connections",
		},
	)
)
