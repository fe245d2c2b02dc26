package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guruchat_frames_received_total",
			Help: "Total realtime frames received",
		},
		[]string{"type"},
	)

	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guruchat_frames_sent_total",
			Help: "Total realtime frames written to the socket",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guruchat_frames_dropped_total",
			Help: "Inbound frames dropped before dispatch",
		},
		[]string{"reason"}, // "parse" or "unknown"
	)

	OutboundQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guruchat_outbound_queue_depth",
			Help: "Frames waiting for a connection",
		},
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guruchat_connection_state",
			Help: "0 disconnected, 1 connecting, 2 connected",
		},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guruchat_reconnect_attempts_total",
			Help: "Reconnect attempts by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "exhausted"
	)

	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guruchat_handler_failures_total",
			Help: "Event handlers that returned an error or panicked",
		},
		[]string{"type"},
	)

	// REST metrics
	RESTRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guruchat_rest_request_duration_seconds",
			Help:    "REST gateway request duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)

	// Delivery metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guruchat_messages_sent_total",
			Help: "Messages handed to a delivery path",
		},
		[]string{"path"}, // "realtime" or "rest"
	)

	MessagesConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guruchat_messages_confirmed_total",
			Help: "Provisional messages replaced by their confirmed copy",
		},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guruchat_messages_failed_total",
			Help: "Realtime sends rolled back and returned as drafts",
		},
		[]string{"reason"}, // "rejected" or "undelivered"
	)
)
