package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.Core)
	require.NotNil(t, r.PrometheusRegistry())
}

func TestRegisterAndUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_frames_total",
		Help: "test",
	})
	require.NoError(t, r.RegisterCounter("gateway", "frames_total", counter))

	// Same key again must fail
	err := r.RegisterCounter("gateway", "frames_total", counter)
	assert.Error(t, err)

	// Same collector under a different key hits the prometheus conflict
	err = r.RegisterCounter("gateway", "frames_total_2", counter)
	assert.Error(t, err)

	assert.True(t, r.Unregister("gateway", "frames_total"))
	assert.False(t, r.Unregister("gateway", "frames_total"))

	// After unregistering, the key is free again
	require.NoError(t, r.RegisterCounter("gateway", "frames_total", counter))
}

func TestRegisterVecs(t *testing.T) {
	r := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_messages_total", Help: "test",
	}, []string{"type"})
	require.NoError(t, r.RegisterCounterVec("gateway", "messages", cv))

	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "test_depth", Help: "test",
	}, []string{"pool"})
	require.NoError(t, r.RegisterGaugeVec("scheduler", "depth", gv))

	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_duration_seconds", Help: "test",
	}, []string{"stage"})
	require.NoError(t, r.RegisterHistogramVec("scheduler", "duration", hv))
}

func TestHandlerServesCoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	r.Core.ActiveSessions.Set(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
