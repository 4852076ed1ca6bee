package classifier

import (
	"testing"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare", `{"intent":"safety"}`, `{"intent":"safety"}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"preamble and postamble", "Here it is: {\"a\":1} hope that helps", `{"a":1}`, false},
		{"nested", `x {"a":{"b":2},"c":3} y`, `{"a":{"b":2},"c":3}`, false},
		{"braces in strings", `{"reasoning":"uses } and { freely","a":"\"}"}`, `{"reasoning":"uses } and { freely","a":"\"}"}`, false},
		{"unbalanced then valid", `{ oops {"a":1}`, `{"a":1}`, false},
		{"none", "no json here", "", true},
		{"unterminated", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoJSONObject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLLMResponse(t *testing.T) {
	t.Parallel()

	res, err := ParseLLMResponse(`{"intent":"Protocol","confidence":"0.6","entities":"aspirin, salicylic acid"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentProtocol, res.Intent)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
	assert.Equal(t, []string{"aspirin", "salicylic acid"}, res.Entities)

	res, err = ParseLLMResponse(`{"intent":"unknown","confidence":3}`)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnknown, res.Intent)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, []string{}, res.Entities)

	_, err = ParseLLMResponse(`{"intent":"cooking","confidence":0.9}`)
	require.Error(t, err)

	_, err = ParseLLMResponse("plain text")
	require.ErrorIs(t, err, ErrNoJSONObject)
}

func TestExtractEntities(t *testing.T) {
	t.Parallel()

	got := ExtractEntities("Prepare 100uL of NaCl and 100uL of Sodium Chloride at 25 mg")
	assert.Contains(t, got, "NaCl")
	assert.Contains(t, got, "Sodium Chloride")
	assert.Contains(t, got, "100uL")
	assert.Contains(t, got, "25 mg")
	assert.NotContains(t, got, "Prepare")

	count := 0
	for _, e := range got {
		if e == "100uL" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	assert.Equal(t, []string{}, ExtractEntities("what is this"))
}
