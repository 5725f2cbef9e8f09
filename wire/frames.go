// Package wire defines the framed JSON protocol spoken over the
// WebSocket boundary. Inbound frames form a closed set decoded exactly
// once at the gateway; everything the rest of the pipeline sees is typed.
package wire

import (
	"time"

	verrors "github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

// Frame kinds. Inbound and outbound share one namespace on the wire.
const (
	KindTypingEvent       = "typing_event"
	KindBatchTypingEvents = "batch_typing_events"
	KindGetPattern        = "get_pattern"
	KindPing              = "ping"

	KindConnectionEstablished = "connection_established"
	KindEventProcessed        = "event_processed"
	KindBatchProcessed        = "batch_processed"
	KindPatternData           = "pattern_data"
	KindPatternNotReady       = "pattern_not_ready"
	KindPatternUpdate         = "pattern_update"
	KindError                 = "error"
	KindPong                  = "pong"
)

// Inbound is the closed set of client frames. Decode is the only
// constructor.
type Inbound interface {
	inbound()
}

// KeyEvent is the wire form of a single keystroke edge.
type KeyEvent struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
	Duration  *int64 `json:"duration,omitempty"`
	Type      string `json:"type"`
}

// Normalize converts the wire event into the pipeline's internal form,
// validating edge type and timestamp.
func (k KeyEvent) Normalize() (event.Normalized, error) {
	ev := event.Normalized{
		Key:       k.Key,
		Timestamp: k.Timestamp,
		Duration:  k.Duration,
		Type:      event.Edge(k.Type),
	}
	if err := ev.Validate(); err != nil {
		return event.Normalized{}, err
	}
	return ev, nil
}

// TypingEvent carries one keystroke.
type TypingEvent struct {
	SessionID string   `json:"session_id,omitempty"`
	Event     KeyEvent `json:"event"`
}

// BatchTypingEvents carries several keystrokes in client order.
type BatchTypingEvents struct {
	Events []KeyEvent `json:"events"`
}

// GetPattern requests the session's current statistics.
type GetPattern struct{}

// Ping is a client liveness probe.
type Ping struct{}

func (TypingEvent) inbound()       {}
func (BatchTypingEvents) inbound() {}
func (GetPattern) inbound()        {}
func (Ping) inbound()              {}

// QoSInfo is the slice of server configuration announced at handshake.
type QoSInfo struct {
	RateLimitPerSec      int `json:"rate_limit_per_sec"`
	BatchIntervalMS      int `json:"batch_interval_ms"`
	CompressionThreshold int `json:"compression_threshold"`
	MaxLatencyMS         int `json:"max_latency_ms"`
}

// ConnectionEstablished is the first server frame on every connection.
type ConnectionEstablished struct {
	Type          string  `json:"type"`
	ConnectionID  string  `json:"connection_id"`
	SessionID     string  `json:"session_id"`
	ServerVersion string  `json:"server_version"`
	QoSConfig     QoSInfo `json:"qos_config"`
	Timestamp     int64   `json:"timestamp"`
}

// EventProcessed acknowledges a single typing_event.
type EventProcessed struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
}

// BatchProcessed acknowledges a batch_typing_events frame.
type BatchProcessed struct {
	Type           string  `json:"type"`
	ProcessedCount int     `json:"processed_count"`
	TotalCount     int     `json:"total_count"`
	LatencyMS      float64 `json:"latency_ms"`
}

// PatternData answers get_pattern when statistics exist.
type PatternData struct {
	Type    string                 `json:"type"`
	Pattern event.TypingStatistics `json:"pattern"`
	Emotion *event.EmotionVector   `json:"emotion,omitempty"`
}

// PatternNotReady answers get_pattern before enough events are buffered.
type PatternNotReady struct {
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	Buffered int    `json:"buffered"`
	Required int    `json:"required"`
}

// PatternUpdate is the broadcast sent after each successful analysis.
type PatternUpdate struct {
	Type    string                 `json:"type"`
	Pattern event.TypingStatistics `json:"pattern"`
	Emotion event.EmotionVector    `json:"emotion"`
}

// ErrorFrame reports a recoverable protocol or processing error.
type ErrorFrame struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Pong answers ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewErrorFrame builds an error frame from a pipeline error, mapping it
// onto its stable wire code.
func NewErrorFrame(err error) ErrorFrame {
	f := ErrorFrame{
		Type:      KindError,
		Error:     verrors.WireCode(err),
		Timestamp: time.Now().UnixMilli(),
	}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

// NewPong builds a pong frame stamped with the current time.
func NewPong() Pong {
	return Pong{Type: KindPong, Timestamp: time.Now().UnixMilli()}
}
