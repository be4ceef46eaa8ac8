package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "connects_total",
			Help:      "Total number of successful transport connects",
		},
		[]string{"transport"},
	)

	connectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "connect_failures_total",
			Help:      "Total number of failed connect attempts",
		},
		[]string{"transport"},
	)

	fallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "fallbacks_total",
			Help:      "Total number of WebSocket-to-SSE fallbacks",
		},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts scheduled",
		},
		[]string{"transport"},
	)

	retryExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "retry_exhausted_total",
			Help:      "Total number of reconnect sequences that gave up",
		},
	)

	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "events_received_total",
			Help:      "Total number of non-control events received",
		},
		[]string{"type"},
	)

	eventsRefusedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "events_refused_total",
			Help:      "Total number of events refused by the full bounded queue",
		},
	)

	listenerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "listener_panics_total",
			Help:      "Total number of listener callbacks that panicked during dispatch",
		},
	)

	heartbeatTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "heartbeat_timeouts_total",
			Help:      "Total number of stale connections detected by heartbeat",
		},
		[]string{"transport"},
	)

	activeConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ripple",
			Subsystem: "client",
			Name:      "active_connections",
			Help:      "Number of currently connected transports",
		},
		[]string{"transport"},
	)
)
