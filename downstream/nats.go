package downstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	verrors "github.com/Kojaewoong0504/VibeMusic-sub000/errors"
	"github.com/Kojaewoong0504/VibeMusic-sub000/event"
	"github.com/Kojaewoong0504/VibeMusic-sub000/natsclient"
)

// NATSValidator resolves tokens via request-reply against the session
// service.
type NATSValidator struct {
	client  *natsclient.Client
	subject string
}

// NewNATSValidator creates a validator using the configured subject.
func NewNATSValidator(client *natsclient.Client, cfg config.NATSConfig) *NATSValidator {
	return &NATSValidator{client: client, subject: cfg.ValidateSubject}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateReply struct {
	SessionID string `json:"session_id"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

// Validate asks the session service to resolve the token. A well-formed
// negative reply maps to ErrInvalidToken; transport failures keep their
// transient classification so the gateway can distinguish the two.
func (v *NATSValidator) Validate(ctx context.Context, token string) (string, error) {
	req, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return "", fmt.Errorf("downstream: marshal validate request: %w", err)
	}

	data, err := v.client.Request(ctx, v.subject, req)
	if err != nil {
		return "", err
	}

	var reply validateReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("downstream: unmarshal validate reply: %w", err)
	}
	if !reply.Valid || reply.SessionID == "" {
		return "", fmt.Errorf("%w: %s", verrors.ErrInvalidToken, reply.Reason)
	}
	return reply.SessionID, nil
}

// NATSPersistence publishes analysis results to JetStream subjects.
type NATSPersistence struct {
	client         *natsclient.Client
	patternSubject string
	emotionSubject string
}

// NewNATSPersistence creates a persistence writer using the configured
// subjects.
func NewNATSPersistence(client *natsclient.Client, cfg config.NATSConfig) *NATSPersistence {
	return &NATSPersistence{
		client:         client,
		patternSubject: cfg.PatternSubject,
		emotionSubject: cfg.EmotionSubject,
	}
}

type patternRecord struct {
	SessionID string                 `json:"session_id"`
	Pattern   event.TypingStatistics `json:"pattern"`
}

type emotionRecord struct {
	SessionID string              `json:"session_id"`
	Emotion   event.EmotionVector `json:"emotion"`
}

// SaveTypingPattern publishes the statistics record.
func (p *NATSPersistence) SaveTypingPattern(ctx context.Context, sessionID string, stats event.TypingStatistics) error {
	data, err := json.Marshal(patternRecord{SessionID: sessionID, Pattern: stats})
	if err != nil {
		return fmt.Errorf("downstream: marshal pattern record: %w", err)
	}
	return p.client.PublishToStream(ctx, p.patternSubject, data)
}

// SaveEmotionProfile publishes the emotion record.
func (p *NATSPersistence) SaveEmotionProfile(ctx context.Context, sessionID string, vec event.EmotionVector) error {
	data, err := json.Marshal(emotionRecord{SessionID: sessionID, Emotion: vec})
	if err != nil {
		return fmt.Errorf("downstream: marshal emotion record: %w", err)
	}
	return p.client.PublishToStream(ctx, p.emotionSubject, data)
}

// NATSMusicTrigger notifies the music service over core NATS.
type NATSMusicTrigger struct {
	client  *natsclient.Client
	subject string
}

// NewNATSMusicTrigger creates a trigger using the configured subject.
func NewNATSMusicTrigger(client *natsclient.Client, cfg config.NATSConfig) *NATSMusicTrigger {
	return &NATSMusicTrigger{client: client, subject: cfg.MusicSubject}
}

// NotifyEmotion publishes the latest vector for the session.
func (t *NATSMusicTrigger) NotifyEmotion(_ context.Context, sessionID string, vec event.EmotionVector) error {
	data, err := json.Marshal(emotionRecord{SessionID: sessionID, Emotion: vec})
	if err != nil {
		return fmt.Errorf("downstream: marshal emotion notification: %w", err)
	}
	return t.client.Publish(t.subject, data)
}
