// Package downstream defines the collaborator services the pipeline
// consumes: session validation at handshake, pattern/emotion persistence,
// and the music-generation trigger. The pipeline only sees the
// interfaces; NATS-backed and in-process implementations both live here.
package downstream

import (
	"context"

	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

// Validator resolves a handshake token to a session ID. Called once per
// connection.
type Validator interface {
	Validate(ctx context.Context, token string) (sessionID string, err error)
}

// Persistence accepts fire-and-forget writes of analysis results.
// Failures are logged by the caller and never surfaced to a live
// connection.
type Persistence interface {
	SaveTypingPattern(ctx context.Context, sessionID string, stats event.TypingStatistics) error
	SaveEmotionProfile(ctx context.Context, sessionID string, vec event.EmotionVector) error
}

// MusicTrigger is notified with each session's latest emotion vector. The
// pipeline never calls a generation API itself.
type MusicTrigger interface {
	NotifyEmotion(ctx context.Context, sessionID string, vec event.EmotionVector) error
}
