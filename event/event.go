// Package event defines the core data types flowing through the typing
// pipeline: normalized keystroke events, per-batch typing statistics, and
// the derived emotion vector.
package event

import (
	"fmt"
	"time"

	"github.com/Kojaewoong0504/VibeMusic-sub000/errors"
)

// Edge identifies which half of a keystroke an event records.
type Edge string

const (
	// KeyDown marks the press edge of a keystroke
	KeyDown Edge = "keydown"
	// KeyUp marks the release edge of a keystroke
	KeyUp Edge = "keyup"
)

// Valid reports whether the edge is one of the known values.
func (e Edge) Valid() bool {
	return e == KeyDown || e == KeyUp
}

// Normalized is a single keystroke timing record as accepted by the
// pipeline. Timestamps are client-relative milliseconds and must be
// non-decreasing within one connection's stream. Instances are immutable
// once appended to a session buffer.
type Normalized struct {
	// Key is the client's key identifier ("a", "Backspace", "Shift", ...)
	Key string `json:"key"`
	// Timestamp is milliseconds, monotonic within a session's connection
	Timestamp int64 `json:"timestamp"`
	// Duration is the press duration in milliseconds, when the client
	// reports it (keyup events carry it, keydown events usually do not)
	Duration *int64 `json:"duration,omitempty"`
	// Type is the keystroke edge
	Type Edge `json:"type"`
}

// Validate checks the structural invariants of a single event.
func (n Normalized) Validate() error {
	if n.Key == "" {
		return errors.WrapInvalid(
			fmt.Errorf("missing key identifier"),
			"event", "Validate", "check key",
		)
	}
	if n.Timestamp < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative timestamp %d", n.Timestamp),
			"event", "Validate", "check timestamp",
		)
	}
	if !n.Type.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown edge %q", n.Type),
			"event", "Validate", "check edge",
		)
	}
	if n.Duration != nil && *n.Duration < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative duration %d", *n.Duration),
			"event", "Validate", "check duration",
		)
	}
	return nil
}

// IsKeydown reports whether the event records a press edge.
func (n Normalized) IsKeydown() bool {
	return n.Type == KeyDown
}

// IsBackspace reports whether the event is an error-correction keystroke.
func (n Normalized) IsBackspace() bool {
	return n.Key == "Backspace" || n.Key == "Delete"
}

// TypingStatistics is the per-batch analysis output. It is ephemeral:
// recomputed fresh on every scheduler tick from a buffer snapshot, with no
// state carried between ticks.
type TypingStatistics struct {
	KeystrokeCount    int     `json:"keystroke_count"`
	KeydownCount      int     `json:"keydown_count"`
	WordsPerMinute    float64 `json:"words_per_minute"`
	MeanIntervalMS    float64 `json:"mean_interval_ms"`
	IntervalStddevMS  float64 `json:"interval_stddev_ms"`
	PauseCount        int     `json:"pause_count"`
	RhythmConsistency float64 `json:"rhythm_consistency"` // [0,1]
	ErrorRate         float64 `json:"error_rate"`         // [0,1]
	SpanMS            int64   `json:"span_ms"`
	// MeanDurationMS is the mean reported press duration, 0 when no
	// event carried a duration
	MeanDurationMS float64 `json:"mean_duration_ms"`
	// PauseDurations holds the individual inter-key gaps that exceeded
	// the pause threshold, for focus scoring
	PauseDurations []float64 `json:"-"`
	Sampled        time.Time `json:"sampled_at"`
}

// EmotionVector is the 4-axis derived signal handed to the music step.
// Energy, Tension, Focus and Confidence live in [0,1]; Valence in [-1,1].
type EmotionVector struct {
	Energy     float64   `json:"energy"`
	Valence    float64   `json:"valence"`
	Tension    float64   `json:"tension"`
	Focus      float64   `json:"focus"`
	Confidence float64   `json:"confidence"`
	SampleSize int       `json:"sample_size"`
	ComputedAt time.Time `json:"computed_at"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp bounds v to [lo,hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
