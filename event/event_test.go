package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kojaewoong0504/VibeMusic-sub000/errors"
)

func TestNormalizedValidate(t *testing.T) {
	dur := int64(80)
	good := Normalized{Key: "a", Timestamp: 1000, Duration: &dur, Type: KeyDown}
	require.NoError(t, good.Validate())

	neg := int64(-5)
	cases := []struct {
		name string
		ev   Normalized
	}{
		{"missing key", Normalized{Timestamp: 1000, Type: KeyDown}},
		{"negative timestamp", Normalized{Key: "a", Timestamp: -1, Type: KeyDown}},
		{"unknown edge", Normalized{Key: "a", Timestamp: 1000, Type: Edge("keyheld")}},
		{"negative duration", Normalized{Key: "a", Timestamp: 1000, Duration: &neg, Type: KeyUp}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestEdgeHelpers(t *testing.T) {
	assert.True(t, Normalized{Key: "a", Type: KeyDown}.IsKeydown())
	assert.False(t, Normalized{Key: "a", Type: KeyUp}.IsKeydown())
	assert.True(t, Normalized{Key: "Backspace", Type: KeyDown}.IsBackspace())
	assert.True(t, Normalized{Key: "Delete", Type: KeyDown}.IsBackspace())
	assert.False(t, Normalized{Key: "d", Type: KeyDown}.IsBackspace())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.3))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.42, Clamp01(0.42))
	assert.Equal(t, -1.0, Clamp(-2.5, -1, 1))
	assert.Equal(t, 1.0, Clamp(3.1, -1, 1))
	assert.Equal(t, 0.5, Clamp(0.5, -1, 1))
}
