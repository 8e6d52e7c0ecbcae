package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Visitor metrics
	VisitorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lobby_visitors_total",
			Help: "Total number of visitors by state",
		},
		[]string{"state"},
	)

	VisitorsOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobby_visitors_online",
			Help: "Visitors with an open push channel",
		},
	)

	AlertsUnread = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobby_alerts_unread",
			Help: "Number of unread alerts",
		},
	)

	// Transition metrics
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_transitions_total",
			Help: "Committed visitor transitions by kind",
		},
		[]string{"transition"},
	)

	TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lobby_transition_duration_seconds",
			Help:    "Time to commit a transition, including lock wait",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transition"},
	)

	PollRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_poll_requests_total",
			Help: "Fallback status polls served",
		},
	)

	// Push metrics
	PushConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lobby_push_connections",
			Help: "Open push connections by role",
		},
		[]string{"role"},
	)

	PushMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_push_messages_sent_total",
			Help: "Messages written to push connections by role",
		},
		[]string{"role"},
	)

	HeartbeatTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_heartbeat_timeouts_total",
			Help: "Push connections closed for missing liveness traffic",
		},
		[]string{"role"},
	)

	// Event bus metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_events_published_total",
			Help: "Admin events published by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_events_dropped_total",
			Help: "Event deliveries dropped by stage (bus, operator, visitor)",
		},
		[]string{"stage"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lobby_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(VisitorsTotal)
	prometheus.MustRegister(VisitorsOnline)
	prometheus.MustRegister(AlertsUnread)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(TransitionDuration)
	prometheus.MustRegister(PollRequestsTotal)
	prometheus.MustRegister(PushConnections)
	prometheus.MustRegister(PushMessagesSent)
	prometheus.MustRegister(HeartbeatTimeouts)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
