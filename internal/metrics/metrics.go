package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghost_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Messaging metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghost_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_messages_sent_total",
			Help: "Total messages persisted",
		},
		[]string{"content"}, // "text", "media"
	)

	MessageMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_message_mutations_total",
			Help: "Total message edits and deletes",
		},
		[]string{"op"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_notifications_created_total",
			Help: "Total notifications created",
		},
		[]string{"kind"},
	)

	// Live delivery metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghost_ws_connections_active",
			Help: "Open WebSocket connections",
		},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_events_delivered_total",
			Help: "Events handed to live connections",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghost_events_dropped_total",
			Help: "Events dropped before delivery",
		},
		[]string{"reason"}, // "lane_full", "conn_full", "relay"
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghost_redis_latency_seconds",
			Help:    "Redis publish latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
