// Package config defines the pipeline configuration: server listeners, QoS
// limits, buffer and scheduler tuning, analysis constants, and the NATS
// collaborator connection. Configuration is loaded once at startup from a
// JSON file with environment overrides and is immutable afterwards.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	QoS       QoSConfig       `json:"qos"`
	Buffer    BufferConfig    `json:"buffer"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Emotion   EmotionConfig   `json:"emotion"`
	NATS      NATSConfig      `json:"nats"`
}

// ServerConfig holds the listener settings for the WebSocket gateway and
// the operational HTTP endpoints (/metrics, /healthz).
type ServerConfig struct {
	HTTPPort        int    `json:"http_port"`
	WSPath          string `json:"ws_path"`
	ReadBufferSize  int    `json:"read_buffer_size"`
	WriteBufferSize int    `json:"write_buffer_size"`
}

// QoSConfig is the process-wide quality-of-service envelope. It is sent to
// every client in the connection handshake and never changes at runtime.
type QoSConfig struct {
	// RateLimitPerSec is the per-connection inbound message budget over a
	// one second window. Excess messages are rejected, never queued.
	RateLimitPerSec int `json:"rate_limit_per_sec"`
	// CompressionThreshold is the outbound payload size in bytes at which
	// compression is attempted
	CompressionThreshold int `json:"compression_threshold"`
	// MaxLatencyMS is the acceptable processing latency budget; breaches
	// are logged, not enforced
	MaxLatencyMS int `json:"max_latency_ms"`
	// LatencySmoothing is the EMA factor for per-connection latency
	LatencySmoothing float64 `json:"latency_smoothing"`
	// HeartbeatAfterMS is inbound silence before the server pings
	HeartbeatAfterMS int `json:"heartbeat_after_ms"`
	// IdleTimeoutMS is total silence before a connection is closed
	IdleTimeoutMS int `json:"idle_timeout_ms"`
	// ReapIntervalMS is how often idle connections are swept
	ReapIntervalMS int `json:"reap_interval_ms"`
}

// HeartbeatAfter returns the heartbeat trigger as a duration.
func (q QoSConfig) HeartbeatAfter() time.Duration {
	return time.Duration(q.HeartbeatAfterMS) * time.Millisecond
}

// IdleTimeout returns the idle close threshold as a duration.
func (q QoSConfig) IdleTimeout() time.Duration {
	return time.Duration(q.IdleTimeoutMS) * time.Millisecond
}

// ReapInterval returns the reaper period as a duration.
func (q QoSConfig) ReapInterval() time.Duration {
	return time.Duration(q.ReapIntervalMS) * time.Millisecond
}

// MaxLatency returns the latency budget as a duration.
func (q QoSConfig) MaxLatency() time.Duration {
	return time.Duration(q.MaxLatencyMS) * time.Millisecond
}

// BufferConfig tunes the per-session event buffers and the global session
// index.
type BufferConfig struct {
	// Capacity is the per-session event cap; oldest events are dropped
	// FIFO on overflow
	Capacity int `json:"capacity"`
	// MaxSessions is the global concurrent session cap; the
	// least-recently-active session is evicted when exceeded
	MaxSessions int `json:"max_sessions"`
	// MaxEventAgeMS is the arrival age past which buffered events are GC'd
	MaxEventAgeMS int `json:"max_event_age_ms"`
	// SessionTTLMS is the inactivity span after which a session's buffer
	// and emotion slot are torn down; 0 disables
	SessionTTLMS int `json:"session_ttl_ms"`
	// GCIntervalMS is the period of the stale-event sweep
	GCIntervalMS int `json:"gc_interval_ms"`
}

// MaxEventAge returns the event GC age as a duration.
func (b BufferConfig) MaxEventAge() time.Duration {
	return time.Duration(b.MaxEventAgeMS) * time.Millisecond
}

// SessionTTL returns the idle-session teardown threshold as a duration.
func (b BufferConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLMS) * time.Millisecond
}

// GCInterval returns the GC sweep period as a duration.
func (b BufferConfig) GCInterval() time.Duration {
	return time.Duration(b.GCIntervalMS) * time.Millisecond
}

// SchedulerConfig tunes the batch analysis loop.
type SchedulerConfig struct {
	// TickIntervalMS is the dispatch period
	TickIntervalMS int `json:"tick_interval_ms"`
	// BatchSize is the maximum distinct dirty sessions dispatched per tick
	BatchSize int `json:"batch_size"`
	// MinEvents gates analysis: sessions with fewer buffered events are
	// skipped and queries answer pattern_not_ready
	MinEvents int `json:"min_events"`
	// Workers sizes the analysis worker pool; 0 means GOMAXPROCS
	Workers int `json:"workers"`
	// QueueSize bounds the worker pool's task queue
	QueueSize int `json:"queue_size"`
	// WindowMS is the buffer window handed to the extractor each tick
	WindowMS int `json:"window_ms"`
}

// TickInterval returns the tick period as a duration.
// EffectiveWorkers resolves a zero worker count to GOMAXPROCS.
func (s SchedulerConfig) EffectiveWorkers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}

// Window returns the analysis window as a duration.
func (s SchedulerConfig) Window() time.Duration {
	return time.Duration(s.WindowMS) * time.Millisecond
}

// AnalysisConfig holds the pattern extractor's empirical constants. These
// are tuned defaults, not derived invariants, so they stay configurable.
type AnalysisConfig struct {
	// PauseThresholdMS is the inter-key gap counted as a pause
	PauseThresholdMS float64 `json:"pause_threshold_ms"`
}

// EmotionConfig holds the emotion mapper's tuned constants.
type EmotionConfig struct {
	// SmoothingAlpha weighs the newest raw vector against the previous
	// smoothed one
	SmoothingAlpha float64 `json:"smoothing_alpha"`
	// WPMNorm is the typing speed mapped to full energy
	WPMNorm float64 `json:"wpm_norm"`
}

// NATSConfig describes the collaborator transport. When Enabled is false
// the pipeline runs standalone: validation accepts all tokens and the
// persistence/music collaborators become no-ops.
type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	// ValidateSubject serves session-token validation via request-reply
	ValidateSubject string `json:"validate_subject"`
	// PatternSubject receives save_typing_pattern publishes
	PatternSubject string `json:"pattern_subject"`
	// EmotionSubject receives save_emotion_profile publishes
	EmotionSubject string `json:"emotion_subject"`
	// MusicSubject receives emotion notifications for the music trigger
	MusicSubject string `json:"music_subject"`
	// RequestTimeoutMS bounds the validation request-reply
	RequestTimeoutMS int `json:"request_timeout_ms"`
}

// RequestTimeout returns the request-reply budget as a duration.
func (n NATSConfig) RequestTimeout() time.Duration {
	return time.Duration(n.RequestTimeoutMS) * time.Millisecond
}

// Default returns the configuration with every tuned constant at its
// documented default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			WSPath:          "/ws/typing",
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		QoS: QoSConfig{
			RateLimitPerSec:      100,
			CompressionThreshold: 1024,
			MaxLatencyMS:         50,
			LatencySmoothing:     0.1,
			HeartbeatAfterMS:     30_000,
			IdleTimeoutMS:        300_000,
			ReapIntervalMS:       30_000,
		},
		Buffer: BufferConfig{
			Capacity:      1000,
			MaxSessions:   1000,
			MaxEventAgeMS: 300_000,
			SessionTTLMS:  300_000,
			GCIntervalMS:  60_000,
		},
		Scheduler: SchedulerConfig{
			TickIntervalMS: 100,
			BatchSize:      50,
			MinEvents:      10,
			Workers:        0, // GOMAXPROCS
			QueueSize:      256,
			WindowMS:       60_000,
		},
		Analysis: AnalysisConfig{
			PauseThresholdMS: 500,
		},
		Emotion: EmotionConfig{
			SmoothingAlpha: 0.3,
			WPMNorm:        100,
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://localhost:4222",
			ValidateSubject:  "vibemusic.session.validate",
			PatternSubject:   "vibemusic.pattern.save",
			EmotionSubject:   "vibemusic.emotion.save",
			MusicSubject:     "vibemusic.music.trigger",
			RequestTimeoutMS: 2000,
		},
	}
}

// Load reads a JSON config file, merges it over the defaults, applies
// environment overrides, and validates the result. An empty path returns
// the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments change the hot knobs
// without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIBEMUSIC_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("VIBEMUSIC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("VIBEMUSIC_RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.QoS.RateLimitPerSec = limit
		}
	}
}

// Validate checks ranges and fills derived defaults.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.WSPath == "" {
		return errors.New("server.ws_path is required")
	}

	if c.QoS.RateLimitPerSec <= 0 {
		return fmt.Errorf("qos.rate_limit_per_sec must be positive, got %d", c.QoS.RateLimitPerSec)
	}
	if c.QoS.CompressionThreshold < 0 {
		return fmt.Errorf("qos.compression_threshold must be non-negative, got %d", c.QoS.CompressionThreshold)
	}
	if c.QoS.LatencySmoothing <= 0 || c.QoS.LatencySmoothing > 1 {
		return fmt.Errorf("qos.latency_smoothing must be in (0,1], got %v", c.QoS.LatencySmoothing)
	}
	if c.QoS.IdleTimeoutMS <= c.QoS.HeartbeatAfterMS {
		return fmt.Errorf("qos.idle_timeout_ms (%d) must exceed qos.heartbeat_after_ms (%d)",
			c.QoS.IdleTimeoutMS, c.QoS.HeartbeatAfterMS)
	}

	if c.Buffer.Capacity <= 0 {
		return fmt.Errorf("buffer.capacity must be positive, got %d", c.Buffer.Capacity)
	}
	if c.Buffer.MaxSessions <= 0 {
		return fmt.Errorf("buffer.max_sessions must be positive, got %d", c.Buffer.MaxSessions)
	}
	if c.Buffer.SessionTTLMS < 0 {
		return fmt.Errorf("buffer.session_ttl_ms must be non-negative, got %d", c.Buffer.SessionTTLMS)
	}

	if c.Scheduler.TickIntervalMS <= 0 {
		return fmt.Errorf("scheduler.tick_interval_ms must be positive, got %d", c.Scheduler.TickIntervalMS)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.MinEvents < 2 {
		return fmt.Errorf("scheduler.min_events must be at least 2, got %d", c.Scheduler.MinEvents)
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be non-negative, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Scheduler.QueueSize <= 0 {
		c.Scheduler.QueueSize = 256
	}
	if c.Scheduler.WindowMS <= 0 {
		return fmt.Errorf("scheduler.window_ms must be positive, got %d", c.Scheduler.WindowMS)
	}

	if c.Analysis.PauseThresholdMS <= 0 {
		return fmt.Errorf("analysis.pause_threshold_ms must be positive, got %v", c.Analysis.PauseThresholdMS)
	}

	if c.Emotion.SmoothingAlpha <= 0 || c.Emotion.SmoothingAlpha >= 1 {
		return fmt.Errorf("emotion.smoothing_alpha must be in (0,1), got %v", c.Emotion.SmoothingAlpha)
	}
	if c.Emotion.WPMNorm <= 0 {
		return fmt.Errorf("emotion.wpm_norm must be positive, got %v", c.Emotion.WPMNorm)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.New("nats.url is required when nats is enabled")
		}
		if c.NATS.ValidateSubject == "" || c.NATS.PatternSubject == "" ||
			c.NATS.EmotionSubject == "" || c.NATS.MusicSubject == "" {
			return errors.New("nats subjects are required when nats is enabled")
		}
		if c.NATS.RequestTimeoutMS <= 0 {
			c.NATS.RequestTimeoutMS = 2000
		}
	}

	return nil
}
