package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nostr_relay"

var (
	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Current number of connected websocket sessions",
	}, []string{"shard"})

	connectionsRefused = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_refused_total",
		Help:      "Connections refused because the origin was at its connection cap",
	}, []string{"shard"})

	sessionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_dropped_total",
		Help:      "Sessions dropped by the relay rather than closed by the client",
	}, []string{"shard", "reason"})

	activeSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Current number of live subscriptions",
	}, []string{"shard"})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Total number of EVENT submissions",
	}, []string{"shard"})

	eventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_accepted_total",
		Help:      "Submitted events which were acknowledged successfully",
	}, []string{"shard", "treatment"})

	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Submitted events which were rejected, by reason class",
	}, []string{"shard", "reason"})

	eventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_broadcast_total",
		Help:      "Live EVENT messages queued to subscribers",
	}, []string{"shard"})

	backfillEvents = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backfill_events",
		Help:      "Stored events returned per subscription backfill",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
	}, []string{"shard"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "op_duration_seconds",
		Help:      "Time spent in one actor turn, by message type",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
	}, []string{"shard", "op"})

	panicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "panics_recovered_total",
		Help:      "Panics recovered while handling a client message",
	}, []string{"shard"})

	whitelistLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "whitelist_lookups_total",
		Help:      "Whitelist gate decisions for non-bootstrap kinds, by source",
	}, []string{"source"})
)
