package downstream

import (
	"context"
	"strings"

	"github.com/google/uuid"

	verrors "github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
)

// LocalValidator accepts any non-empty token and uses it as the session
// ID, minting one when the token is blank. Used in standalone mode when
// no session service is configured.
type LocalValidator struct{}

// Validate implements Validator.
func (LocalValidator) Validate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.NewString(), nil
	}
	if len(token) > 128 {
		return "", verrors.ErrInvalidToken
	}
	return token, nil
}

// NoopPersistence discards all writes. Used in standalone mode.
type NoopPersistence struct{}

// SaveTypingPattern implements Persistence.
func (NoopPersistence) SaveTypingPattern(context.Context, string, event.TypingStatistics) error {
	return nil
}

// SaveEmotionProfile implements Persistence.
func (NoopPersistence) SaveEmotionProfile(context.Context, string, event.EmotionVector) error {
	return nil
}

// NoopMusicTrigger discards notifications. Used in standalone mode.
type NoopMusicTrigger struct{}

// NotifyEmotion implements MusicTrigger.
func (NoopMusicTrigger) NotifyEmotion(context.Context, string, event.EmotionVector) error {
	return nil
}
