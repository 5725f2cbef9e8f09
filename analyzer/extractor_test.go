package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

// steadyKeydowns builds n keydown events at a fixed interval with a fixed
// press duration.
func steadyKeydowns(n int, intervalMS, durationMS int64) []event.Normalized {
	events := make([]event.Normalized, 0, n)
	for i := 0; i < n; i++ {
		d := durationMS
		events = append(events, event.Normalized{
			Key:       "a",
			Timestamp: int64(i) * intervalMS,
			Duration:  &d,
			Type:      event.KeyDown,
		})
	}
	return events
}

func TestExtractSteadyTyping(t *testing.T) {
	// 15 keydowns at 200ms interval, 80ms duration, no backspaces
	e := New(500)
	stats, err := e.Extract(steadyKeydowns(15, 200, 80))
	require.NoError(t, err)

	// span = 14*200ms = 2.8s → wpm = (15/5)/(2.8/60) ≈ 64.29
	assert.InDelta(t, 64.29, stats.WordsPerMinute, 0.05)
	assert.InDelta(t, 1.0, stats.RhythmConsistency, 0.001)
	assert.Equal(t, 15, stats.KeydownCount)
	assert.Equal(t, 15, stats.KeystrokeCount)
	assert.Equal(t, 200.0, stats.MeanIntervalMS)
	assert.Equal(t, 0.0, stats.IntervalStddevMS)
	assert.Equal(t, 0, stats.PauseCount)
	assert.Equal(t, 0.0, stats.ErrorRate)
	assert.Equal(t, int64(2800), stats.SpanMS)
	assert.Equal(t, 80.0, stats.MeanDurationMS)
}

func TestExtractInsufficientEvents(t *testing.T) {
	e := New(500)

	_, err := e.Extract(nil)
	assert.ErrorIs(t, err, errors.ErrInsufficientEvents)

	_, err = e.Extract(steadyKeydowns(1, 200, 80))
	assert.ErrorIs(t, err, errors.ErrInsufficientEvents)

	// Keyups alone never satisfy the keydown minimum
	ups := []event.Normalized{
		{Key: "a", Timestamp: 0, Type: event.KeyUp},
		{Key: "b", Timestamp: 100, Type: event.KeyUp},
		{Key: "c", Timestamp: 200, Type: event.KeyUp},
	}
	_, err = e.Extract(ups)
	assert.ErrorIs(t, err, errors.ErrInsufficientEvents)
}

func TestExtractInvalidTimeSpan(t *testing.T) {
	e := New(500)
	same := []event.Normalized{
		{Key: "a", Timestamp: 1000, Type: event.KeyDown},
		{Key: "b", Timestamp: 1000, Type: event.KeyDown},
	}
	_, err := e.Extract(same)
	assert.ErrorIs(t, err, errors.ErrInvalidTimeSpan)
}

func TestExtractIdempotent(t *testing.T) {
	e := New(500)
	window := steadyKeydowns(20, 150, 60)
	window[4].Key = "Backspace"
	window[11].Key = "Backspace"

	first, err := e.Extract(window)
	require.NoError(t, err)
	second, err := e.Extract(window)
	require.NoError(t, err)

	// Identical windows produce identical statistics (sampling time aside)
	second.Sampled = first.Sampled
	assert.Equal(t, first, second)
}

func TestExtractPauseCounting(t *testing.T) {
	e := New(500)
	// Gaps: 100, 700, 100, 2000
	timestamps := []int64{0, 100, 800, 900, 2900}
	events := make([]event.Normalized, 0, len(timestamps))
	for _, ts := range timestamps {
		events = append(events, event.Normalized{Key: "x", Timestamp: ts, Type: event.KeyDown})
	}

	stats, err := e.Extract(events)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PauseCount)
	assert.Equal(t, []float64{700, 2000}, stats.PauseDurations)
}

func TestExtractErrorRate(t *testing.T) {
	e := New(500)
	events := steadyKeydowns(10, 100, 50)
	events[2].Key = "Backspace"
	events[7].Key = "Delete"

	stats, err := e.Extract(events)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, stats.ErrorRate, 1e-9)
}

func TestRhythmConsistencyBounds(t *testing.T) {
	e := New(500)

	// Highly irregular typing still stays within [0,1]
	irregular := []int64{0, 10, 1500, 1510, 4000, 4020, 9000}
	events := make([]event.Normalized, 0, len(irregular))
	for _, ts := range irregular {
		events = append(events, event.Normalized{Key: "x", Timestamp: ts, Type: event.KeyDown})
	}

	stats, err := e.Extract(events)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.RhythmConsistency, 0.0)
	assert.LessOrEqual(t, stats.RhythmConsistency, 1.0)
	assert.GreaterOrEqual(t, stats.WordsPerMinute, 0.0)
}

func TestRhythmZeroWithFewDeltas(t *testing.T) {
	e := New(500)
	// Two keydowns → one delta → rhythm must be 0
	stats, err := e.Extract(steadyKeydowns(2, 200, 50))
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.RhythmConsistency)

	// Three keydowns → two deltas → still 0
	stats, err = e.Extract(steadyKeydowns(3, 200, 50))
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.RhythmConsistency)

	// Four keydowns → three deltas → rhythm kicks in
	stats, err = e.Extract(steadyKeydowns(4, 200, 50))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, stats.RhythmConsistency, 0.001)
}

func TestKeyupsIgnoredForTiming(t *testing.T) {
	e := New(500)
	events := []event.Normalized{
		{Key: "a", Timestamp: 0, Type: event.KeyDown},
		{Key: "a", Timestamp: 80, Type: event.KeyUp},
		{Key: "b", Timestamp: 200, Type: event.KeyDown},
		{Key: "b", Timestamp: 280, Type: event.KeyUp},
		{Key: "c", Timestamp: 400, Type: event.KeyDown},
	}

	stats, err := e.Extract(events)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.KeydownCount)
	assert.Equal(t, 5, stats.KeystrokeCount)
	// Intervals computed over keydowns only
	assert.Equal(t, 200.0, stats.MeanIntervalMS)
	assert.Equal(t, int64(400), stats.SpanMS)
}

func TestDefaultThresholdApplied(t *testing.T) {
	e := New(0)
	assert.Equal(t, 500.0, e.PauseThresholdMS())
}
