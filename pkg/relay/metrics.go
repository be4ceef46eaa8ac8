package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "clients",
		Help:      "Connected realtime clients by transport.",
	}, []string{"transport"})
	metricEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "events_published_total",
		Help:      "Events accepted for distribution, by source.",
	}, []string{"source"})
	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "events_dropped_total",
		Help:      "Events dropped because a client could not keep up.",
	})
	metricConnsRefused = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "connections_refused_total",
		Help:      "Connections refused by the concurrency limit.",
	})
	metricAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "auth_failures_total",
		Help:      "Rejected credentials across all endpoints.",
	})
)
