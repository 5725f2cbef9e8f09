package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
)

func TestNewPoolPanicsOnNilProcessor(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](2, 10, nil)
	})
}

func TestSubmitBeforeStart(t *testing.T) {
	pool := NewPool(2, 10, func(context.Context, int) error { return nil })
	err := pool.Submit(1)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestProcessesAllSubmittedWork(t *testing.T) {
	var processed atomic.Int64
	var wg sync.WaitGroup

	pool := NewPool(4, 100, func(_ context.Context, _ int) error {
		defer wg.Done()
		processed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()

	assert.Equal(t, int64(n), processed.Load())

	stats := pool.Stats()
	assert.Equal(t, int64(n), stats.Submitted)
	assert.Equal(t, int64(n), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestFullQueueDropsWork(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 2, func(_ context.Context, _ int) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	// Saturate worker + queue, then expect fast rejection
	var full bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(i); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full, "queue should eventually reject work")
	assert.Positive(t, pool.Stats().Dropped)

	close(block)
}

func TestFailedWorkIsCounted(t *testing.T) {
	var wg sync.WaitGroup
	pool := NewPool(2, 10, func(_ context.Context, fail bool) error {
		defer wg.Done()
		if fail {
			return errors.New("analysis failed")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	wg.Add(3)
	require.NoError(t, pool.Submit(true))
	require.NoError(t, pool.Submit(false))
	require.NoError(t, pool.Submit(true))
	wg.Wait()

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestStopDrainsQueue(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 100, func(_ context.Context, _ int) error {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(i))
	}

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(20), processed.Load())

	// Submitting after stop fails
	assert.ErrorIs(t, pool.Submit(1), ErrStopped)
}

func TestStopTimeout(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)

	pool := NewPool(1, 10, func(_ context.Context, _ int) error {
		close(started)
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Submit(1))
	<-started

	err := pool.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
}

func TestDoubleStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, pool.Stop(time.Second))
}

func TestWithMetricsRegisters(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	var wg sync.WaitGroup

	pool := NewPool(2, 10, func(_ context.Context, _ int) error {
		defer wg.Done()
		return nil
	}, WithMetrics[int](registry, "analysis_pool"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	wg.Add(1)
	require.NoError(t, pool.Submit(1))
	wg.Wait()

	assert.Equal(t, int64(1), pool.Stats().Submitted)
}
