package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "telehealth_rt"

var (
	ActiveConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections per subsystem.",
		},
		[]string{"subsystem"},
	)

	RegistryEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_evictions_total",
			Help:      "Connections removed from a registry by something other than their own disconnect.",
		},
		[]string{"subsystem", "reason"},
	)

	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound WebSocket frames by subsystem and frame type.",
		},
		[]string{"subsystem", "type"},
	)

	FramesRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Frames forwarded to another connection.",
		},
		[]string{"subsystem", "type"},
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that were not relayed.",
		},
		[]string{"subsystem", "reason"},
	)

	ChatMessagesPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_persisted_total",
			Help:      "Chat messages written to the message store.",
		},
	)

	ChatPersistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_persist_failures_total",
			Help:      "Chat messages rejected because the store failed.",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Dispatched notifications by source and delivery result.",
		},
		[]string{"source", "result"},
	)

	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_sent_total",
			Help:      "Outbound frames queued for a WebSocket connection.",
		},
		[]string{"subsystem"},
	)

	WebsocketMessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_dropped_total",
			Help:      "Outbound frames dropped by the send buffer backpressure policy.",
		},
		[]string{"subsystem", "reason"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to NATS by subject kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// IncrementActiveConnections increments the active connections gauge.
func IncrementActiveConnections(subsystem string) {
	ActiveConnectionsGauge.WithLabelValues(subsystem).Inc()
}

// DecrementActiveConnections decrements the active connections gauge.
func DecrementActiveConnections(subsystem string) {
	ActiveConnectionsGauge.WithLabelValues(subsystem).Dec()
}

func IncrementRegistryEvictions(subsystem, reason string) {
	RegistryEvictionsTotal.WithLabelValues(subsystem, reason).Inc()
}

func IncrementFramesReceived(subsystem, frameType string) {
	FramesReceivedTotal.WithLabelValues(subsystem, frameType).Inc()
}

func IncrementFramesRelayed(subsystem, frameType string) {
	FramesRelayedTotal.WithLabelValues(subsystem, frameType).Inc()
}

func IncrementFramesDropped(subsystem, reason string) {
	FramesDroppedTotal.WithLabelValues(subsystem, reason).Inc()
}

func IncrementChatMessagesPersisted() {
	ChatMessagesPersistedTotal.Inc()
}

func IncrementChatPersistFailures() {
	ChatPersistFailuresTotal.Inc()
}

// IncrementNotifications counts a dispatch. source is the requesting ingress: notifications, http, grpc or nats.
func IncrementNotifications(source, result string) {
	NotificationsTotal.WithLabelValues(source, result).Inc()
}

func IncrementMessagesSent(subsystem string) {
	MessagesSentTotal.WithLabelValues(subsystem).Inc()
}

func IncrementWebsocketMessagesDropped(subsystem, reason string) {
	WebsocketMessagesDroppedTotal.WithLabelValues(subsystem, reason).Inc()
}

func IncrementEventsPublished(kind, outcome string) {
	EventsPublishedTotal.WithLabelValues(kind, outcome).Inc()
}

var NatsMessagesReceivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nats_messages_received_total",
		Help:      "NATS messages received by subject.",
	},
	[]string{"subject"},
)

func IncrementNatsMessagesReceived(subject string) {
	NatsMessagesReceivedTotal.WithLabelValues(subject).Inc()
}
