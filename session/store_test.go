package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

func testStore(t *testing.T, cfg config.BufferConfig) *Store {
	t.Helper()
	if cfg.Capacity == 0 {
		cfg.Capacity = 16
	}
	return NewStore(cfg, nil, nil)
}

func keydown(ts int64) event.Normalized {
	return event.Normalized{Key: "a", Timestamp: ts, Type: event.KeyDown}
}

func TestAppendCreatesAndMarksDirty(t *testing.T) {
	s := testStore(t, config.BufferConfig{})

	require.NoError(t, s.Append("s1", keydown(1000)))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 1, s.Len("s1"))
	assert.Equal(t, StateDirty, s.State("s1"))
}

func TestAppendDropsOldestOnOverflow(t *testing.T) {
	s := testStore(t, config.BufferConfig{Capacity: 3})

	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.Append("s1", keydown(i*100)))
	}

	assert.Equal(t, 3, s.Len("s1"))
	_, drops := s.Stats()
	assert.Equal(t, uint64(2), drops)

	win := s.Window("s1", 0)
	require.Len(t, win, 3)
	assert.Equal(t, int64(200), win[0].Timestamp, "oldest events dropped first")
}

func TestLRUEvictionAtSessionCap(t *testing.T) {
	s := testStore(t, config.BufferConfig{MaxSessions: 3})

	base := time.Now()
	clock := base
	s.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Append(fmt.Sprintf("s%d", i), keydown(1000)))
	}

	// touch s0 so s1 becomes the least recently active
	clock = base.Add(10 * time.Second)
	require.NoError(t, s.Append("s0", keydown(2000)))

	clock = base.Add(11 * time.Second)
	require.NoError(t, s.Append("s3", keydown(1000)))

	assert.Equal(t, 3, s.Count())
	assert.Equal(t, 0, s.Len("s1"), "least-recently-active session evicted")
	assert.Equal(t, 2, s.Len("s0"))

	evictions, _ := s.Stats()
	assert.Equal(t, uint64(1), evictions)
}

func TestWindowFiltersByArrivalAge(t *testing.T) {
	s := testStore(t, config.BufferConfig{})

	base := time.Now()
	clock := base
	s.now = func() time.Time { return clock }

	clock = base.Add(-10 * time.Second)
	require.NoError(t, s.Append("s1", keydown(1000)))
	clock = base.Add(-1 * time.Second)
	require.NoError(t, s.Append("s1", keydown(2000)))

	clock = base
	win := s.Window("s1", 5*time.Second)
	require.Len(t, win, 1)
	assert.Equal(t, int64(2000), win[0].Timestamp)

	assert.Len(t, s.Window("s1", 0), 2)
	assert.Nil(t, s.Window("missing", 0))
}

func TestWindowIgnoresClientEpoch(t *testing.T) {
	s := testStore(t, config.BufferConfig{})

	// clients count milliseconds from their own epoch; a stream starting
	// at zero must still land inside the analysis window
	for i := int64(0); i < 15; i++ {
		require.NoError(t, s.Append("s1", keydown(i*200)))
	}

	win := s.Window("s1", time.Minute)
	require.Len(t, win, 15)
	assert.Equal(t, int64(0), win[0].Timestamp)
	assert.Equal(t, int64(2800), win[14].Timestamp)
}

func TestClaimReleaseCycle(t *testing.T) {
	s := testStore(t, config.BufferConfig{})
	require.NoError(t, s.Append("s1", keydown(1000)))

	claimed := s.ClaimDirty(10)
	require.Equal(t, []string{"s1"}, claimed)
	assert.Equal(t, StateProcessing, s.State("s1"))

	// already claimed: a second tick must not claim it again
	assert.Empty(t, s.ClaimDirty(10))

	s.Release("s1")
	assert.Equal(t, StateIdle, s.State("s1"))
}

func TestRedirtyDuringProcessing(t *testing.T) {
	s := testStore(t, config.BufferConfig{})
	require.NoError(t, s.Append("s1", keydown(1000)))

	require.Len(t, s.ClaimDirty(10), 1)

	// an event arriving mid-analysis must schedule another pass
	require.NoError(t, s.Append("s1", keydown(1100)))
	assert.Equal(t, StateProcessing, s.State("s1"))

	s.Release("s1")
	assert.Equal(t, StateDirty, s.State("s1"))
}

func TestClaimDirtyHonorsBatchLimit(t *testing.T) {
	s := testStore(t, config.BufferConfig{})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(fmt.Sprintf("s%d", i), keydown(1000)))
	}

	first := s.ClaimDirty(3)
	assert.Len(t, first, 3)

	second := s.ClaimDirty(3)
	assert.Len(t, second, 2)
}

func TestEmotionSlotLifecycle(t *testing.T) {
	s := testStore(t, config.BufferConfig{})
	require.NoError(t, s.Append("s1", keydown(1000)))

	_, ok := s.PreviousEmotion("s1")
	assert.False(t, ok)

	v := event.EmotionVector{Energy: 0.7, Valence: 0.4, Confidence: 0.9}
	s.SetEmotion("s1", v)

	got, ok := s.PreviousEmotion("s1")
	require.True(t, ok)
	assert.InDelta(t, 0.7, got.Energy, 0.001)

	// returned vector is a copy, not a handle into the store
	got.Energy = 0
	again, _ := s.PreviousEmotion("s1")
	assert.InDelta(t, 0.7, again.Energy, 0.001)

	s.Teardown("s1")
	_, ok = s.PreviousEmotion("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Count())
}

func TestSetEmotionUnknownSessionIsNoop(t *testing.T) {
	s := testStore(t, config.BufferConfig{})
	s.SetEmotion("ghost", event.EmotionVector{Energy: 1})
	assert.Equal(t, 0, s.Count())
}

func TestSweepTrimsByArrivalAge(t *testing.T) {
	s := testStore(t, config.BufferConfig{MaxEventAgeMS: 5000})

	base := time.Now()
	clock := base
	s.now = func() time.Time { return clock }

	clock = base.Add(-10 * time.Second)
	require.NoError(t, s.Append("s1", keydown(1000)))
	clock = base.Add(-8 * time.Second)
	require.NoError(t, s.Append("s1", keydown(2000)))
	clock = base.Add(-1 * time.Second)
	require.NoError(t, s.Append("s1", keydown(3000)))

	clock = base
	removed := s.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len("s1"))

	// active session survives even when the sweep removes nothing further
	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, 1, s.Count())
}

func TestSweepKeepsFreshZeroEpochEvents(t *testing.T) {
	s := testStore(t, config.BufferConfig{MaxEventAgeMS: 300_000, SessionTTLMS: 300_000})

	// freshly arrived events with near-zero client timestamps must not
	// look five minutes old to the GC
	for i := int64(0); i < 15; i++ {
		require.NoError(t, s.Append("s1", keydown(i*200)))
	}

	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, 15, s.Len("s1"))
	assert.Equal(t, 1, s.Count())
}

func TestSweepTearsDownIdleSessions(t *testing.T) {
	s := testStore(t, config.BufferConfig{MaxEventAgeMS: 300_000, SessionTTLMS: 60_000})

	base := time.Now()
	clock := base
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Append("idle", keydown(1000)))
	s.SetEmotion("idle", event.EmotionVector{Energy: 0.7})

	clock = base.Add(30 * time.Second)
	require.NoError(t, s.Append("busy", keydown(1000)))

	clock = base.Add(70 * time.Second)
	s.Sweep()

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 0, s.Len("idle"))
	_, ok := s.PreviousEmotion("idle")
	assert.False(t, ok, "emotion slot must die with its session")
	assert.Equal(t, 1, s.Len("busy"))
}
