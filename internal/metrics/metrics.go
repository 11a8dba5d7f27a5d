// Package metrics provides Prometheus instrumentation for the Keyhaven chat
// engine and the chatd server. It exposes gauges for connection and presence
// counts, counters for message throughput, and histograms for latency
// tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionState tracks the engine connection state as a gauge:
	// 0 = disconnected, 1 = connecting, 2 = connected.
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connection_state",
		Help: "Engine connection state (0=disconnected, 1=connecting, 2=connected)",
	})

	// ReconnectAttempts counts transport reconnection attempts.
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_reconnect_attempts_total",
		Help: "Total number of transport reconnection attempts",
	})

	// MessagesIngested counts messages entering the store, labeled by
	// source: "live", "history", "send", or "cache".
	MessagesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_ingested_total",
		Help: "Total number of messages ingested into the store",
	}, []string{"source"})

	// MessagesRejected counts malformed messages discarded before ingest.
	MessagesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_rejected_total",
		Help: "Total number of malformed messages discarded",
	})

	// HistoryFetchLatency records history pagination round-trip latency.
	HistoryFetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_history_fetch_latency_seconds",
		Help:    "History pagination fetch latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// ConnectionsTotal tracks the current number of WebSocket connections
	// held by a chatd instance.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the size of the membership snapshot.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_online_users",
		Help: "Current number of online identities",
	})

	// MessagesDelivered counts server-side deliveries, labeled by path:
	// "local" (receiver on this instance) or "nats" (forwarded).
	MessagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_messages_delivered_total",
		Help: "Total number of messages delivered to receivers",
	}, []string{"path"})

	// TypingEvents counts typing indicator relays.
	TypingEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatd_typing_events_total",
		Help: "Total number of typing events relayed",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionState,
		ReconnectAttempts,
		MessagesIngested,
		MessagesRejected,
		HistoryFetchLatency,
		ConnectionsTotal,
		OnlineUsers,
		MessagesDelivered,
		TypingEvents,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
