package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInDomain(t *testing.T) {
	t.Parallel()

	g := Default()
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"recipe is off domain", "What's a good recipe for pasta", false},
		{"off domain beats chemistry score", "Which solvent is best for my car paint repair?", false},
		{"chemistry question", "What is the molecular weight of caffeine?", true},
		{"automation request", "Generate opentrons code for transferring 100uL from A1 to B1", true},
		{"formula tokens", "H2 and O2", true},
		{"unit quantity", "dilute to 50 ml", true},
		{"ph value", "adjust to ph 7.4", true},
		{"carbon is not car", "carbon dioxide reaction rates", true},
		{"interrogative fallback", "how?", true},
		{"nothing relevant", "hello there friend", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, g.IsInDomain(tt.query))
		})
	}
}

func TestEvaluateScoring(t *testing.T) {
	t.Parallel()

	v := Default().Evaluate("prepare 10 mg of Fe at ph 7")
	assert.True(t, v.InDomain)
	assert.False(t, v.Fallback)
	assert.Equal(t, 1, v.UnitHits)
	assert.Equal(t, 1, v.PHHits)
	assert.GreaterOrEqual(t, v.FormulaHits, 1)
	assert.Equal(t, v.KeywordHits+2*v.FormulaHits+v.UnitHits+v.PHHits, v.Score)
}

func TestEvaluateReportsOffDomainHit(t *testing.T) {
	t.Parallel()

	v := Default().Evaluate("best movie about chemistry lab")
	assert.False(t, v.InDomain)
	assert.Equal(t, "movie", v.OffDomainHit)
	assert.Zero(t, v.Score)
}

func TestCustomLists(t *testing.T) {
	t.Parallel()

	g := New(Lists{OffDomain: []string{"banana"}, Domain: []string{"titration"}})
	assert.False(t, g.IsInDomain("banana titration"))
	assert.True(t, g.IsInDomain("titration curve"))
	assert.False(t, g.IsInDomain("explain this"))
}
