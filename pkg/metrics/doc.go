/*
Package metrics exposes lobby's Prometheus metrics and health endpoints.

# Metrics Catalog

Visitors:
  - lobby_visitors_total{state}: gauge, refreshed by Collector
  - lobby_visitors_online: gauge, visitors with an open push channel
  - lobby_alerts_unread: gauge

Transitions:
  - lobby_transitions_total{transition}: register, approve, block, delete
  - lobby_transition_duration_seconds{transition}: includes per-visitor lock wait
  - lobby_poll_requests_total: fallback status polls

Push:
  - lobby_push_connections{role}: visitor / operator
  - lobby_push_messages_sent_total{role}
  - lobby_heartbeat_timeouts_total{role}

Event bus:
  - lobby_events_published_total{kind}
  - lobby_events_dropped_total{stage}: bus, operator, visitor

API:
  - lobby_api_requests_total{route, status}
  - lobby_api_request_duration_seconds{route}

# Timer

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TransitionDuration, "approve")

# Health

RegisterCheck installs a live check per component; checks run on every
/health and /ready request, each bounded by CheckTimeout. /health fails when
any registered check fails. /ready only looks at CriticalComponents (storage,
bus, push) and also fails while one of them has no check yet.

	metrics.RegisterCheck("bus", func(context.Context) error { return bus.Err() })
*/
package metrics
