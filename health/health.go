// Package health tracks per-component health and aggregates it into a
// single system status served on /healthz.
package health

import (
	"regexp"
	"sync"
	"time"

	"github.com/Kojaewoong0504/VibeMusic-sub000/component"
)

// Sanitization patterns keep connection strings and addresses out of
// externally visible health messages.
var (
	urlRegex  = regexp.MustCompile(`(?:https?|nats|wss?)://\S+`)
	ipRegex   = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex = regexp.MustCompile(`:\d{2,5}\b`)
)

// Status represents the health state of a component or the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Uptime      string    `json:"uptime,omitempty"`
	ErrorCount  int       `json:"error_count,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// NewHealthy creates a new healthy status
func NewHealthy(name, message string) Status {
	return Status{Component: name, Healthy: true, Status: "healthy", Message: message, Timestamp: time.Now()}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(name, message string) Status {
	return Status{Component: name, Healthy: false, Status: "unhealthy", Message: message, Timestamp: time.Now()}
}

// NewDegraded creates a new degraded status
func NewDegraded(name, message string) Status {
	return Status{Component: name, Healthy: false, Status: "degraded", Message: message, Timestamp: time.Now()}
}

// sanitize strips addresses from messages before they leave the process.
func sanitize(msg string) string {
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = ipRegex.ReplaceAllString(msg, "[IP]")
	return portRegex.ReplaceAllString(msg, "[PORT]")
}

// FromComponentHealth converts a component.HealthStatus to a health.Status.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	s := NewUnhealthy(name, "component unhealthy")
	if ch.Healthy {
		s = NewHealthy(name, "component healthy")
	}
	if ch.LastError != "" {
		s.Message = sanitize(ch.LastError)
	}
	s.Uptime = ch.Uptime.String()
	s.ErrorCount = ch.ErrorCount
	return s
}

// Aggregate combines sub-statuses: any unhealthy makes the aggregate
// unhealthy; otherwise any degraded makes it degraded.
func Aggregate(name string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(name, "no sub-components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(name, "one or more sub-components are unhealthy")
	case hasDegraded:
		status = NewDegraded(name, "one or more sub-components are degraded")
	default:
		status = NewHealthy(name, "all sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

// Monitor tracks health of multiple components in a thread-safe manner.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records the health status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, exists := m.statuses[name]
	return status, exists
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// AggregateHealth returns an aggregated status for the entire system.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	return Aggregate(systemName, subs)
}
