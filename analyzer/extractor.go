// Package analyzer derives typing statistics from a time-ordered window of
// normalized keystroke events. Extraction is a pure function: identical
// windows always yield identical statistics, and precondition failures are
// reported as status values, never panics.
package analyzer

import (
	"math"
	"time"

	"github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

// charsPerWord is the conventional characters-per-word divisor for WPM.
const charsPerWord = 5.0

// Extractor computes TypingStatistics from event windows.
type Extractor struct {
	// pauseThresholdMS is the inter-keydown gap counted as a pause
	pauseThresholdMS float64
}

// New creates an extractor with the given pause threshold in milliseconds.
func New(pauseThresholdMS float64) *Extractor {
	if pauseThresholdMS <= 0 {
		pauseThresholdMS = 500
	}
	return &Extractor{pauseThresholdMS: pauseThresholdMS}
}

// Extract computes statistics over the window. The window must contain at
// least two keydown events spanning a positive time range; otherwise the
// matching analysis status error is returned.
func (e *Extractor) Extract(window []event.Normalized) (event.TypingStatistics, error) {
	var stats event.TypingStatistics

	keydowns := make([]event.Normalized, 0, len(window))
	backspaces := 0
	durationSum := 0.0
	durationCount := 0
	for _, ev := range window {
		if ev.IsKeydown() {
			keydowns = append(keydowns, ev)
		}
		if ev.IsBackspace() {
			backspaces++
		}
		if ev.Duration != nil {
			durationSum += float64(*ev.Duration)
			durationCount++
		}
	}

	if len(keydowns) < 2 {
		return stats, errors.ErrInsufficientEvents
	}

	spanMS := keydowns[len(keydowns)-1].Timestamp - keydowns[0].Timestamp
	if spanMS <= 0 {
		return stats, errors.ErrInvalidTimeSpan
	}

	deltas := make([]float64, 0, len(keydowns)-1)
	for i := 1; i < len(keydowns); i++ {
		deltas = append(deltas, float64(keydowns[i].Timestamp-keydowns[i-1].Timestamp))
	}

	mean := meanOf(deltas)
	stddev := stddevOf(deltas, mean)

	pauseCount := 0
	var pauseDurations []float64
	for _, d := range deltas {
		if d > e.pauseThresholdMS {
			pauseCount++
			pauseDurations = append(pauseDurations, d)
		}
	}

	spanMinutes := float64(spanMS) / 1000.0 / 60.0
	wpm := (float64(len(keydowns)) / charsPerWord) / spanMinutes

	// Rhythm needs at least 3 deltas for a meaningful spread estimate
	rhythm := 0.0
	if len(deltas) >= 3 && mean > 0 {
		rhythm = event.Clamp01(1.0 - math.Min(1.0, stddev/mean))
	}

	meanDuration := 0.0
	if durationCount > 0 {
		meanDuration = durationSum / float64(durationCount)
	}

	stats = event.TypingStatistics{
		KeystrokeCount:    len(window),
		KeydownCount:      len(keydowns),
		WordsPerMinute:    wpm,
		MeanIntervalMS:    mean,
		IntervalStddevMS:  stddev,
		PauseCount:        pauseCount,
		RhythmConsistency: rhythm,
		ErrorRate:         float64(backspaces) / float64(len(window)),
		SpanMS:            spanMS,
		MeanDurationMS:    meanDuration,
		PauseDurations:    pauseDurations,
		Sampled:           time.Now(),
	}
	return stats, nil
}

// PauseThresholdMS returns the configured pause threshold.
func (e *Extractor) PauseThresholdMS() float64 {
	return e.pauseThresholdMS
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
