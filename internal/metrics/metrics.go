// Package metrics exposes Prometheus instrumentation for the delivery core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the live registry handles.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_connections",
		Help: "Current number of authenticated WebSocket connections",
	})

	// FramesTotal counts WebSocket frames by direction and type.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_frames_total",
		Help: "WebSocket frames processed",
	}, []string{"direction", "type"}) // direction = "in", "out", "dropped"

	// MessagesTotal counts chat messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_messages_total",
		Help: "Chat messages processed",
	}, []string{"result"}) // result = "appended", "rejected", "rate_limited"

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_notifications_total",
		Help: "Notifications created, by type",
	}, []string{"type"})

	// PushTotal counts platform push attempts.
	PushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_push_total",
		Help: "Platform push sends by result",
	}, []string{"result"}) // result = "sent", "failed", "gone"

	PushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beacon_push_latency_seconds",
		Help:    "Platform push send latency in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	BookingTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_booking_transitions_total",
		Help: "Booking status transitions by target status and result",
	}, []string{"status", "result"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		FramesTotal,
		MessagesTotal,
		NotificationsTotal,
		PushTotal,
		PushLatency,
		BookingTransitions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
