package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kojaewoong0504/VibeMusic-sub000/errors"
)

func TestPublishWithoutConnection(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222")

	err := c.Publish("vibemusic.test", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	_, err = c.Request(context.Background(), "vibemusic.test", nil)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222", WithCircuitBreaker(3, time.Hour))

	for i := 0; i < 3; i++ {
		c.recordFailure()
	}

	err := c.Publish("vibemusic.test", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)

	// open circuit fails fast on every path
	err = c.PublishToStream(context.Background(), "vibemusic.test", nil)
	assert.Error(t, err)
}

func TestCircuitStaysClosedBelowThreshold(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222", WithCircuitBreaker(5, time.Hour))

	c.recordFailure()
	c.recordFailure()

	require.NoError(t, c.checkCircuit())
}

func TestCircuitResetsAfterWindow(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222", WithCircuitBreaker(1, 10*time.Millisecond))

	c.recordFailure()
	require.ErrorIs(t, c.checkCircuit(), errors.ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)

	// window elapsed: the breaker half-opens and calls proceed again
	assert.NoError(t, c.checkCircuit())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222", WithCircuitBreaker(3, time.Hour))

	c.recordFailure()
	c.recordFailure()
	c.resetCircuit()
	c.recordFailure()
	c.recordFailure()

	assert.NoError(t, c.checkCircuit(), "failures do not accumulate across successes")
}

func TestConnectRespectsContext(t *testing.T) {
	c := NewClient("nats://203.0.113.1:4222") // TEST-NET, never routable

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx)
	require.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestCloseWithoutConnectIsSafe(t *testing.T) {
	c := NewClient("nats://127.0.0.1:4222")
	c.Close()
	assert.False(t, c.IsConnected())
}
