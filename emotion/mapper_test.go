package emotion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

func steadyStats() event.TypingStatistics {
	return event.TypingStatistics{
		KeystrokeCount:    15,
		KeydownCount:      15,
		WordsPerMinute:    64.29,
		MeanIntervalMS:    200,
		IntervalStddevMS:  0,
		RhythmConsistency: 1.0,
		ErrorRate:         0,
		SpanMS:            2800,
		MeanDurationMS:    80,
	}
}

func TestMapSteadyTyping(t *testing.T) {
	m := New(0.3, 100)

	v := m.Map(steadyStats(), nil)

	// steady rhythm, no corrections: tension stays low and the
	// energy/tension delta drives valence positive
	assert.Less(t, v.Tension, 0.1)
	assert.Greater(t, v.Valence, 0.5)
	assert.InDelta(t, 0.5, v.Focus, 0.001, "no pause data defaults focus to neutral")
	assert.Equal(t, 15, v.SampleSize)
	assert.False(t, v.ComputedAt.IsZero())
}

func TestMapFirstComputationUnsmoothed(t *testing.T) {
	m := New(0.3, 100)

	raw := m.mapRaw(steadyStats())
	got := m.Map(steadyStats(), nil)

	assert.InDelta(t, raw.Energy, got.Energy, 0.001)
	assert.InDelta(t, raw.Tension, got.Tension, 0.001)
}

func TestMapSmoothingConvergence(t *testing.T) {
	alpha := 0.3
	m := New(alpha, 100)
	stats := steadyStats()

	raw := m.mapRaw(stats)

	// start from a deliberately wrong previous vector
	prev := event.EmotionVector{Energy: 0, Valence: -1, Tension: 1, Focus: 0}

	prevErr := math.Abs(raw.Energy - prev.Energy)
	for i := 0; i < 10; i++ {
		next := m.Map(stats, &prev)
		err := math.Abs(raw.Energy - next.Energy)
		if prevErr > 1e-9 {
			assert.InDelta(t, 1-alpha, err/prevErr, 0.001,
				"distance to the raw value shrinks by (1-alpha) per update")
		}
		prev = next
		prevErr = err
	}

	assert.InDelta(t, raw.Energy, prev.Energy, 0.05)
	assert.InDelta(t, raw.Tension, prev.Tension, 0.05)
}

func TestMapConfidenceNeverSmoothed(t *testing.T) {
	m := New(0.3, 100)
	stats := steadyStats()

	prev := m.Map(stats, nil)
	prev.Confidence = 0.0 // corrupt the slot; smoothing must not pull from it

	next := m.Map(stats, &prev)
	raw := m.mapRaw(stats)

	assert.InDelta(t, raw.Confidence, next.Confidence, 0.001)
	assert.Equal(t, stats.KeystrokeCount, next.SampleSize)
}

func TestTensionErrorPenaltyCapped(t *testing.T) {
	m := New(0.3, 100)

	stats := steadyStats()
	stats.ErrorRate = 0.9

	v := m.mapRaw(stats)
	// rhythm 1.0 and zero stddev leave only the error term, capped at 0.3
	assert.InDelta(t, 0.3, v.Tension, 0.001)
}

func TestTensionStddevPenalty(t *testing.T) {
	m := New(0.3, 100)

	steady := steadyStats()
	jittery := steadyStats()
	jittery.RhythmConsistency = 0.4
	jittery.IntervalStddevMS = 150

	assert.Greater(t, m.mapRaw(jittery).Tension, m.mapRaw(steady).Tension)
}

func TestFocusOptimalPauses(t *testing.T) {
	m := New(0.3, 100)

	stats := steadyStats()
	stats.PauseDurations = []float64{300, 400, 600, 750}
	focused := m.mapRaw(stats)

	stats.PauseDurations = []float64{5000, 8000, 4000, 6000}
	distracted := m.mapRaw(stats)

	assert.Greater(t, focused.Focus, distracted.Focus)
	assert.GreaterOrEqual(t, distracted.Focus, 0.0)
	assert.LessOrEqual(t, focused.Focus, 1.0)
}

func TestConfidenceSaturatesAndFloors(t *testing.T) {
	m := New(0.3, 100)

	small := steadyStats()
	small.KeystrokeCount = 5
	large := steadyStats()
	large.KeystrokeCount = 200

	assert.Less(t, m.mapRaw(small).Confidence, m.mapRaw(large).Confidence)

	worst := steadyStats()
	worst.KeystrokeCount = 1
	worst.RhythmConsistency = 0
	worst.ErrorRate = 1.0
	assert.InDelta(t, 0.1, m.mapRaw(worst).Confidence, 0.001)
}

func TestValenceBounds(t *testing.T) {
	m := New(0.3, 100)

	fast := steadyStats()
	fast.WordsPerMinute = 300
	fast.MeanDurationMS = 40

	v := m.mapRaw(fast)
	require.LessOrEqual(t, v.Valence, 1.0)
	require.GreaterOrEqual(t, v.Valence, -1.0)
}

func TestNewDefaults(t *testing.T) {
	m := New(0, 0)
	assert.InDelta(t, 0.3, m.Alpha(), 0.001)
	assert.InDelta(t, 1.0, m.mapRaw(event.TypingStatistics{WordsPerMinute: 100}).Energy, 0.001)
}
