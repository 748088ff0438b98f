// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// APIRequests counts cloud API requests by method and outcome.
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mieled_api_requests_total",
			Help: "Cloud API requests by outcome",
		},
		[]string{"method", "outcome"},
	)
	// TokenRefreshes counts token refresh attempts by result.
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mieled_token_refreshes_total",
			Help: "Token refresh attempts",
		},
		[]string{"result"},
	)
	// DeviceRefreshes counts full refresh pipeline runs by trigger.
	DeviceRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mieled_device_refreshes_total",
			Help: "Device refresh pipeline runs by trigger",
		},
		[]string{"trigger"},
	)
	// StreamEvents counts server-sent events by event name.
	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mieled_stream_events_total",
			Help: "Server-sent events received by type",
		},
		[]string{"event"},
	)
	// StreamConnected reports whether the event stream is connected.
	StreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mieled_stream_connected",
			Help: "Event stream connectivity (1=connected, 0=down)",
		},
	)
	// CloudConnected reports whether the last cloud interaction succeeded.
	CloudConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mieled_cloud_connected",
			Help: "Cloud connectivity (1=ok, 0=down)",
		},
	)
	// ActionsExecuted counts executed device actions by outcome.
	ActionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mieled_actions_executed_total",
			Help: "Device actions executed by outcome",
		},
		[]string{"outcome"},
	)
)

// Register adds all collectors to the registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests,
		TokenRefreshes,
		DeviceRefreshes,
		StreamEvents,
		StreamConnected,
		CloudConnected,
		ActionsExecuted,
	)
}
