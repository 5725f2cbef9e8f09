package engine

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/health"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPPort = 0 // ephemeral
	cfg.NATS.Enabled = false
	return cfg
}

func TestNewWiresPipeline(t *testing.T) {
	e, err := New(testConfig(), nil)
	require.NoError(t, err)

	assert.NotNil(t, e.store)
	assert.NotNil(t, e.sched)
	assert.NotNil(t, e.gw)
	assert.Nil(t, e.nats, "NATS disabled leaves the collaborator client nil")
}

func TestStartStopCycle(t *testing.T) {
	e, err := New(testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop(2*time.Second))
}

func TestHealthzDegradedStillServes(t *testing.T) {
	e, err := New(testConfig(), nil)
	require.NoError(t, err)

	e.monitor.Update("gateway", health.NewDegraded("gateway", "starting"))

	rec := httptest.NewRecorder()
	e.handleHealthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestHealthzUnhealthyReturns503(t *testing.T) {
	e, err := New(testConfig(), nil)
	require.NoError(t, err)

	e.monitor.Update("gateway", health.NewUnhealthy("gateway", "listener failed"))

	rec := httptest.NewRecorder()
	e.handleHealthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, 503, rec.Code)
}
