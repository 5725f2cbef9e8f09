package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics contains the pipeline-level metrics shared by every
// component. Component-specific metrics live next to their component.
type CoreMetrics struct {
	ComponentStatus   *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	HealthStatus      *prometheus.GaugeVec
	ActiveSessions    prometheus.Gauge
	ActiveConnections prometheus.Gauge
	AnalysisDuration  *prometheus.HistogramVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewCoreMetrics creates the shared pipeline metrics.
func NewCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "component",
				Name:      "status",
				Help:      "Component lifecycle state (0=created, 1=initialized, 2=started, 3=stopped, 4=failed)",
			},
			[]string{"component"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received",
			},
			[]string{"component", "type"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Total number of messages processed",
			},
			[]string{"component", "type", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Number of sessions with a live event buffer",
			},
		),

		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "connections",
				Name:      "active",
				Help:      "Number of open WebSocket connections",
			},
		),

		AnalysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "analysis",
				Name:      "duration_seconds",
				Help:      "Pattern extraction and emotion mapping duration",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"stage"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}
