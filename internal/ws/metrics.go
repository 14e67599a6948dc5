package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_sessions_active",
		Help: "Open WebSocket sessions on this node.",
	})
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "Messages accepted over the session surface.",
	})
	busPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Fanout events published to the bus.",
	})
)
