// Package metrics defines the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values for drop/rejection reasons.
const (
	ReasonRoomFull       = "room_full"
	ReasonDuplicateUser  = "duplicate_user"
	ReasonStaleRecipient = "stale_recipient"
	ReasonUnknownRoom    = "unknown_room"
	ReasonQueueFull      = "queue_full"
	ReasonClosed         = "closed"
)

// Metrics bundles every collector the relay increments. Tests construct one
// per test against a fresh registry so counters start at zero.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	RoomsActive       prometheus.Gauge

	RoomsCreatedTotal   prometheus.Counter
	RoomsDestroyedTotal prometheus.Counter

	JoinsTotal        prometheus.Counter
	JoinRejectedTotal *prometheus.CounterVec

	SignalsForwardedTotal prometheus.Counter
	SignalsDroppedTotal   *prometheus.CounterVec

	ReactionsRelayedTotal prometheus.Counter
	PresenceEventsTotal   *prometheus.CounterVec

	OutboundDroppedTotal *prometheus.CounterVec

	AuthFailuresTotal prometheus.Counter
	RateLimitedTotal  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_connections_active",
			Help: "Signaling WebSocket connections currently open.",
		}),
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_rooms_active",
			Help: "Rooms currently present in the registry.",
		}),
		RoomsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_rooms_created_total",
			Help: "Rooms created by a first join.",
		}),
		RoomsDestroyedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_rooms_destroyed_total",
			Help: "Rooms removed after their last participant left.",
		}),
		JoinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_joins_total",
			Help: "Successful room admissions.",
		}),
		JoinRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_join_rejected_total",
			Help: "Join attempts rejected, by reason.",
		}, []string{"reason"}),
		SignalsForwardedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_signals_forwarded_total",
			Help: "Negotiation payloads forwarded point-to-point.",
		}),
		SignalsDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_signals_dropped_total",
			Help: "Negotiation payloads dropped, by reason.",
		}, []string{"reason"}),
		ReactionsRelayedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_reactions_relayed_total",
			Help: "Reaction events fanned out to room members.",
		}),
		PresenceEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_presence_events_total",
			Help: "Presence notifications broadcast, by event.",
		}, []string{"event"}),
		OutboundDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_outbound_dropped_total",
			Help: "Outbound events dropped before delivery, by reason.",
		}, []string{"reason"}),
		AuthFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_auth_failures_total",
			Help: "Rejected signaling authentication attempts.",
		}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_rate_limited_total",
			Help: "Connections closed for exceeding the message rate limit.",
		}),
	}
}

// Handler exposes the given gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
