package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutation engine metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slackhub_messages_sent_total",
			Help: "Total messages sent through the mutation engine",
		},
	)

	ReactionsToggled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slackhub_reactions_toggled_total",
			Help: "Total reaction toggles",
		},
	)

	OptimisticRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackhub_optimistic_rollbacks_total",
			Help: "Optimistic mutations rolled back after remote failure",
		},
		[]string{"operation"},
	)

	RefetchFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slackhub_refetch_fallbacks_total",
			Help: "Full refetches issued as error recovery",
		},
	)

	// Merger metrics
	EventsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackhub_events_merged_total",
			Help: "Remote change events folded into local state",
		},
		[]string{"table", "op"},
	)

	DuplicateInserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slackhub_duplicate_inserts_total",
			Help: "INSERT events that replaced an existing local entry in place",
		},
	)

	// Presence metrics
	PresenceSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackhub_presence_syncs_total",
			Help: "Presence sync snapshots applied",
		},
		[]string{"scope"},
	)

	PresenceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slackhub_presence_retries_total",
			Help: "Presence subscription retries",
		},
	)

	// Notification metrics
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackhub_notifications_dispatched_total",
			Help: "Notifications dispatched by kind",
		},
		[]string{"kind"}, // "sound", "desktop", "toast"
	)

	NotificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackhub_notifications_suppressed_total",
			Help: "Notifications suppressed by rule",
		},
		[]string{"rule"},
	)

	// Ops HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackhub_http_requests_total",
			Help: "Ops HTTP requests by path, method and status",
		},
		[]string{"path", "method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slackhub_http_request_duration_seconds",
			Help:    "Ops HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"path"},
	)

	// Store metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slackhub_store_latency_seconds",
			Help:    "Remote store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackhub_store_errors_total",
			Help: "Remote store operation failures",
		},
		[]string{"operation"},
	)
)
