// Package emotion maps typing statistics onto a 4-axis emotion vector and
// smooths it against the session's previous vector. The mapping constants
// are empirical: they come from listening tests on the music side, not
// from derived invariants, so they remain configurable.
package emotion

import (
	"math"
	"time"

	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

const (
	// durationPivotMS is the press duration mapped to a neutral energy
	// factor; shorter presses push energy up, longer presses damp it
	durationPivotMS = 200.0

	// stddevPenaltyFloorMS is the interval spread below which typing is
	// considered steady enough to add no tension
	stddevPenaltyFloorMS = 50.0

	// confidenceSaturation is the sample size at which adequacy maxes out
	confidenceSaturation = 20.0

	// confidenceFloor is the minimum reported confidence
	confidenceFloor = 0.1

	// optimal pause band for focus scoring, in milliseconds
	optimalPauseMinMS = 200.0
	optimalPauseMaxMS = 800.0

	// longPauseMS marks distraction-level pauses
	longPauseMS = 3000.0
)

// Mapper converts TypingStatistics into EmotionVectors.
type Mapper struct {
	alpha   float64
	wpmNorm float64
}

// New creates a mapper with the given smoothing factor and WPM
// normalization.
func New(alpha, wpmNorm float64) *Mapper {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.3
	}
	if wpmNorm <= 0 {
		wpmNorm = 100
	}
	return &Mapper{alpha: alpha, wpmNorm: wpmNorm}
}

// Alpha returns the smoothing factor.
func (m *Mapper) Alpha() float64 { return m.alpha }

// Map derives the emotion vector for the given statistics, smoothing the
// four axes against prev. A nil prev means this is the session's first
// computation and the raw vector is returned unsmoothed. Confidence and
// sample metadata are never smoothed.
func (m *Mapper) Map(stats event.TypingStatistics, prev *event.EmotionVector) event.EmotionVector {
	raw := m.mapRaw(stats)

	if prev == nil {
		return raw
	}

	smoothed := raw
	smoothed.Energy = m.smooth(raw.Energy, prev.Energy)
	smoothed.Valence = m.smooth(raw.Valence, prev.Valence)
	smoothed.Tension = m.smooth(raw.Tension, prev.Tension)
	smoothed.Focus = m.smooth(raw.Focus, prev.Focus)
	return smoothed
}

func (m *Mapper) smooth(raw, prev float64) float64 {
	return m.alpha*raw + (1-m.alpha)*prev
}

// mapRaw computes the unsmoothed vector.
func (m *Mapper) mapRaw(stats event.TypingStatistics) event.EmotionVector {
	energy := m.energy(stats)
	tension := m.tension(stats)

	return event.EmotionVector{
		Energy:     energy,
		Tension:    tension,
		Focus:      m.focus(stats),
		Valence:    event.Clamp(1.5*(energy-tension), -1, 1),
		Confidence: m.confidence(stats),
		SampleSize: stats.KeystrokeCount,
		ComputedAt: time.Now(),
	}
}

// energy scales typing speed by a press-duration factor: quick taps read
// as energetic, held keys as deliberate.
func (m *Mapper) energy(stats event.TypingStatistics) float64 {
	speed := event.Clamp01(stats.WordsPerMinute / m.wpmNorm)

	factor := 1.0
	if stats.MeanDurationMS > 0 {
		factor = event.Clamp(1.5-stats.MeanDurationMS/durationPivotMS, 0.5, 1.5)
	}

	return event.Clamp01(speed * factor)
}

// tension combines rhythm irregularity, error corrections, and raw
// interval spread. Each term is individually bounded so a single noisy
// signal cannot saturate the axis.
func (m *Mapper) tension(stats event.TypingStatistics) float64 {
	varianceTerm := (1 - stats.RhythmConsistency) * 0.5

	errorPenalty := math.Min(0.3, stats.ErrorRate)

	stddevPenalty := 0.0
	if stats.IntervalStddevMS > stddevPenaltyFloorMS {
		stddevPenalty = math.Min(0.2, (stats.IntervalStddevMS-stddevPenaltyFloorMS)/500.0)
	}

	return event.Clamp01(varianceTerm + errorPenalty + stddevPenalty)
}

// focus rewards pauses in the reflective 200-800ms band and steady rhythm,
// and penalizes distraction-length pauses. Without pause data there is no
// signal either way, so focus sits at the neutral midpoint.
func (m *Mapper) focus(stats event.TypingStatistics) float64 {
	if len(stats.PauseDurations) == 0 {
		return 0.5
	}

	optimal := 0
	long := 0
	for _, p := range stats.PauseDurations {
		if p >= optimalPauseMinMS && p <= optimalPauseMaxMS {
			optimal++
		}
		if p > longPauseMS {
			long++
		}
	}

	n := float64(len(stats.PauseDurations))
	optimalRatio := float64(optimal) / n
	longRatio := float64(long) / n

	return event.Clamp01(0.6*optimalRatio + 0.4*stats.RhythmConsistency - 0.3*longRatio)
}

// confidence reflects how much the sample can be trusted: volume up to the
// saturation point, steadiness, and a penalty for correction-heavy input.
func (m *Mapper) confidence(stats event.TypingStatistics) float64 {
	adequacy := math.Min(1, float64(stats.KeystrokeCount)/confidenceSaturation)

	c := 0.7*adequacy + 0.3*stats.RhythmConsistency - 0.3*stats.ErrorRate
	return event.Clamp(c, confidenceFloor, 1)
}
