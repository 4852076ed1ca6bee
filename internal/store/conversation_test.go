package store

import (
	"context"
	"testing"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractThreadEntities(t *testing.T) {
	t.Parallel()

	got := ExtractThreadEntities("Create a protocol for aspirin synthesis with sulfuric acid and H2SO4 on the OT-2 using a p300 pipette")
	assert.Contains(t, got, Entity{Kind: EntityCompound, Value: "aspirin"})
	assert.Contains(t, got, Entity{Kind: EntityCompound, Value: "sulfuric acid"})
	assert.Contains(t, got, Entity{Kind: EntityCompound, Value: "H2SO4"})
	assert.Contains(t, got, Entity{Kind: EntityProtocol, Value: "aspirin synthesis with sulfuric acid and h2so4 on the ot-2 using a p300 pipette"})
	assert.Contains(t, got, Entity{Kind: EntityEquipment, Value: "ot-2"})
	assert.Contains(t, got, Entity{Kind: EntityEquipment, Value: "p300"})
	assert.Contains(t, got, Entity{Kind: EntityEquipment, Value: "pipette"})
	assert.NotContains(t, got, Entity{Kind: EntityCompound, Value: "create"})
	assert.NotContains(t, got, Entity{Kind: EntityCompound, Value: "sulfuric"})

	assert.Empty(t, ExtractThreadEntities("   "))
}

func TestSummarizeLimits(t *testing.T) {
	t.Parallel()

	entities := []Entity{
		{EntityCompound, "ethanol"}, {EntityCompound, "methanol"}, {EntityCompound, "acetone"}, {EntityCompound, "benzene"},
		{EntityProtocol, "a"}, {EntityProtocol, "b"}, {EntityProtocol, "c"},
		{EntityEquipment, "plate"},
	}
	assert.Equal(t,
		"Key entities from conversation: Compounds: ethanol, methanol, acetone; Protocols: a, b; Equipment: plate",
		Summarize(entities))
	assert.Equal(t, "", Summarize(nil))
}

func TestConversationStoreLifecycle(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	cs := NewConversationStore(repo, 2)
	ctx := context.Background()

	tc, err := cs.Context(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, tc.History)
	assert.Empty(t, tc.Summary)

	require.NoError(t, cs.Record(ctx, "t1", "user", "What is the boiling point of ethanol?"))
	require.NoError(t, cs.Record(ctx, "t1", "assistant", "About 78 °C."))
	require.NoError(t, cs.Record(ctx, "t1", "user", "And methanol?"))
	require.NoError(t, cs.Record(ctx, "", "user", "ignored without a thread"))

	tc, err = cs.Context(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Message{
		{Role: "assistant", Content: "About 78 °C."},
		{Role: "user", Content: "And methanol?"},
	}, tc.History)
	assert.Equal(t, "Key entities from conversation: Compounds: ethanol, methanol", tc.Summary)

	require.NoError(t, cs.Clear(ctx, "t1"))
	tc, err = cs.Context(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, tc.History)
}
