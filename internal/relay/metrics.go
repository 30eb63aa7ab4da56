package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirror the teacher's observability.go: bounded-cardinality
// counters/gauges only, no per-client or per-lobby labels.
var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Currently connected relay clients",
	})

	messagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total relay messages processed",
	})

	connectionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // bounded: "rate_limit", "origin"

	lobbiesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_lobbies_active",
		Help: "Currently open lobbies",
	})
)
