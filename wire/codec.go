package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	verrors "github.com/Kojaewoong0504/VibeMusic-sub000/errors"
)

// envelope is the minimal shape every inbound frame must satisfy.
type envelope struct {
	Type string `json:"type"`
}

// Decode parses an inbound client frame. Malformed JSON or a missing
// type field yields ErrInvalidMessage; a well-formed frame of a kind the
// server does not speak yields ErrUnknownMessage.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", verrors.ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", verrors.ErrInvalidMessage)
	}

	switch env.Type {
	case KindTypingEvent:
		var f TypingEvent
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", verrors.ErrInvalidMessage, err)
		}
		return f, nil
	case KindBatchTypingEvents:
		var f BatchTypingEvents
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", verrors.ErrInvalidMessage, err)
		}
		return f, nil
	case KindGetPattern:
		return GetPattern{}, nil
	case KindPing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", verrors.ErrUnknownMessage, env.Type)
	}
}

// Encode marshals an outbound frame and, when the payload reaches the
// compression threshold, gzips it. The compressed form is used only when
// it is strictly smaller than the plain one; compressed reports which
// form payload holds. A threshold of 0 disables compression.
func Encode(frame any, threshold int) (payload []byte, compressed bool, err error) {
	plain, err := json.Marshal(frame)
	if err != nil {
		return nil, false, fmt.Errorf("wire: encode: %w", err)
	}

	if threshold <= 0 || len(plain) < threshold {
		return plain, false, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(plain); err != nil {
		return plain, false, nil
	}
	if err := gz.Close(); err != nil {
		return plain, false, nil
	}

	if buf.Len() >= len(plain) {
		return plain, false, nil
	}
	return buf.Bytes(), true, nil
}

// Decompress reverses Encode's gzip path. Used by clients and tests.
func Decompress(payload []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("wire: decompress: %w", err)
	}
	defer gz.Close()

	plain, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("wire: decompress: %w", err)
	}
	return plain, nil
}
