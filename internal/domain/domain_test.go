package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationSessionBounds(t *testing.T) {
	t.Parallel()

	s := NewGenerationSession("gen-1", "transfer 50uL", PlatformOT2, 2)
	assert.Equal(t, 3, s.MaxAttempts())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(GenerationAttempt{Code: "x"}))
	}
	assert.ErrorIs(t, s.Append(GenerationAttempt{}), ErrAttemptLimit)
	assert.Len(t, s.Attempts, 3)
	for i, a := range s.Attempts {
		assert.Equal(t, i, a.Index)
	}

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Index)
}

func TestGenerationSessionFinishOnce(t *testing.T) {
	t.Parallel()

	s := NewGenerationSession("gen-2", "mix", PlatformFlex, -1)
	assert.Equal(t, 1, s.MaxAttempts())

	_, ok := s.Last()
	assert.False(t, ok)

	require.NoError(t, s.Finish(StatusFailed, "cancelled"))
	assert.ErrorIs(t, s.Finish(StatusSuccess, ""), ErrSessionFinished)
	assert.ErrorIs(t, s.Append(GenerationAttempt{}), ErrSessionFinished)
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "cancelled", s.FailureReason)
	assert.False(t, s.FinishedAt.IsZero())
}

func TestValidationRoundTripThroughRouterResult(t *testing.T) {
	t.Parallel()

	cases := []ValidationResult{
		NewValidationResult(nil, nil, nil),
		NewValidationResult([]string{"Invalid deck slot '12'"}, []string{"deprecated call"}, []string{"Check deck layout and labware positioning"}),
		NewValidationResult(nil, []string{"w1", "w2"}, nil),
	}
	for _, v := range cases {
		var r RouterResult
		v.ApplyTo(&r)

		data, err := json.Marshal(r)
		require.NoError(t, err)
		var decoded RouterResult
		require.NoError(t, json.Unmarshal(data, &decoded))

		assert.Equal(t, v, ValidationFromRouterResult(decoded))
	}
}

func TestParseIntent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, IntentAutomate, ParseIntent(" AUTOMATE "))
	assert.Equal(t, IntentSafety, ParseIntent("safety"))
	assert.Equal(t, IntentUnknown, ParseIntent("cooking"))
	assert.Equal(t, IntentUnknown, ParseIntent(""))
}

func TestClampConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(3))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestDetectPlatform(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PlatformFlex, DetectPlatform("flex", "ot-2 protocol", PlatformOT2))
	assert.Equal(t, PlatformFlex, DetectPlatform("", "Write a Flex protocol", PlatformOT2))
	assert.Equal(t, PlatformOT2, DetectPlatform("", "write an OT-2 script", PlatformFlex))
	assert.Equal(t, PlatformOT2, DetectPlatform("", "transfer 50uL", PlatformOT2))
	assert.Equal(t, PlatformOther, DetectPlatform("hamilton", "", PlatformOT2))
	assert.Equal(t, PlatformOT2, DetectPlatform("", "a flexible dilution scheme", PlatformOT2))
	assert.Equal(t, PlatformFlex, DetectPlatform("", "test the reflex assay on a FLEX robot", PlatformOT2))
	assert.Equal(t, PlatformOT2, DetectPlatform("", "run it on the ot2", PlatformFlex))
	assert.False(t, MentionsPlatform("reflex arc", PlatformFlex))
	assert.False(t, MentionsPlatform("pivot2 table", PlatformOT2))
}
