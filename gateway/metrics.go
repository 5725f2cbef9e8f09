package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
)

// Metrics holds the gateway's Prometheus instruments.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesReceived    *prometheus.CounterVec
	framesRejected    *prometheus.CounterVec
	eventsBuffered    prometheus.Counter
	broadcastsTotal   prometheus.Counter
	broadcastDuration prometheus.Histogram
	idleClosuresTotal prometheus.Counter
	latencyBudget     prometheus.Counter
	panicsRecovered   prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, componentName string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Number of open WebSocket connections",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections",
		}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Total inbound frames by kind",
		}, []string{"type"}),

		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "frames_rejected_total",
			Help:      "Total rejected inbound frames by wire error code",
		}, []string{"code"}),

		eventsBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "events_buffered_total",
			Help:      "Total keystroke events accepted into session buffers",
		}),

		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "broadcasts_total",
			Help:      "Total pattern_update broadcasts",
		}),

		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "broadcast_duration_seconds",
			Help:      "Pattern update fan-out duration",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		idleClosuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "idle_closures_total",
			Help:      "Connections closed by the idle reaper",
		}),

		latencyBudget: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "latency_budget_breaches_total",
			Help:      "Processing latency EMA samples above the configured budget",
		}),

		panicsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "panics_recovered_total",
			Help:      "Panics recovered at the read loop boundary",
		}),
	}

	for _, err := range []error{
		registry.RegisterGauge(componentName, "connections_active", m.connectionsActive),
		registry.RegisterCounter(componentName, "connections_total", m.connectionsTotal),
		registry.RegisterCounterVec(componentName, "frames_received", m.framesReceived),
		registry.RegisterCounterVec(componentName, "frames_rejected", m.framesRejected),
		registry.RegisterCounter(componentName, "events_buffered", m.eventsBuffered),
		registry.RegisterCounter(componentName, "broadcasts_total", m.broadcastsTotal),
		registry.RegisterHistogram(componentName, "broadcast_duration", m.broadcastDuration),
		registry.RegisterCounter(componentName, "idle_closures", m.idleClosuresTotal),
		registry.RegisterCounter(componentName, "latency_budget_breaches", m.latencyBudget),
		registry.RegisterCounter(componentName, "panics_recovered", m.panicsRecovered),
	} {
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}
