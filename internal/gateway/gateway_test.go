package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

const projectID = types.ID(1)

type stubExistence struct {
	exists map[types.ID]bool
}

func (s *stubExistence) Exists(_ context.Context, _ types.ID, id types.ID) (bool, error) {
	return s.exists[id], nil
}

func TestEvaluate_NoItems_Allows(t *testing.T) {
	eng := New(memory.New(), nil)
	outcome, items, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "allow", outcome.Decision)
	assert.Empty(t, items)
	// The six content gates (all trivially pass on an empty item set)
	// plus Efficiency, which is always appended.
	assert.Len(t, outcome.Gates, 7)
}

func TestEvaluate_Grounding_FindsUngroundedItem(t *testing.T) {
	eng := New(memory.New(), nil)

	items := []Item{
		{ID: 1, SourceIDs: []types.ID{100}, Confidence: 0.9, Score: 1.0},
		{ID: 2, SourceIDs: []types.ID{999}, Confidence: 0.9, Score: 0.9},
	}
	existence := &stubExistence{exists: map[types.ID]bool{100: true}}

	// Grounding always carries a remediation handler, so even in strict
	// mode a single violation is cured by dropping the offending item
	// rather than blocking — exercised separately below.
	outcome, remaining, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", items, []types.GateName{types.GateGrounding}, existence, nil)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, types.ID(1), remaining[0].ID)

	var grounding types.GateOutcome
	for _, g := range outcome.Gates {
		if g.Gate == types.GateGrounding {
			grounding = g
		}
	}
	assert.True(t, grounding.Passed, "re-check after remediation must pass")
	assert.Equal(t, "applied", grounding.Remediation)
}

// TestEvaluate_Coherence_StrictBlocks exercises a gate with no
// remediation handler, where a strict-mode violation must actually
// block the decision rather than being silently cured.
func TestEvaluate_Coherence_StrictBlocks(t *testing.T) {
	cfg := &config.Config{VerificationStrictMode: true}
	eng := New(memory.New(), cfg)

	items := []Item{{ID: 1, Score: 0.5}, {ID: 2, Score: 0.9}}
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", items, []types.GateName{types.GateCoherence}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "block", outcome.Decision)
}

func TestEvaluate_Confidence_BelowThresholdFails(t *testing.T) {
	cfg := &config.Config{VerificationConfidenceThreshold: 0.8}
	eng := New(memory.New(), cfg)

	items := []Item{{ID: 1, Confidence: 0.3, Score: 1.0}}
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", items, []types.GateName{types.GateConfidence}, nil, nil)
	require.NoError(t, err)

	var confidence types.GateOutcome
	for _, g := range outcome.Gates {
		if g.Gate == types.GateConfidence {
			confidence = g
		}
	}
	assert.False(t, confidence.Passed)
}

func TestEvaluate_Consistency_FlagsContradiction(t *testing.T) {
	eng := New(memory.New(), nil)
	items := []Item{
		{ID: 1, Content: "the service does not support retries", Embedding: []float32{1, 0, 0}, Score: 1.0},
		{ID: 2, Content: "the service supports retries", Embedding: []float32{1, 0, 0}, Score: 0.9},
	}
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", items, []types.GateName{types.GateConsistency}, nil, nil)
	require.NoError(t, err)

	var consistency types.GateOutcome
	for _, g := range outcome.Gates {
		if g.Gate == types.GateConsistency {
			consistency = g
		}
	}
	assert.False(t, consistency.Passed)
	require.Len(t, consistency.Violations, 1)
}

func TestEvaluate_Minimality_FlagsRedundantSameSourcePair(t *testing.T) {
	eng := New(memory.New(), nil)
	items := []Item{
		{ID: 1, SourceIDs: []types.ID{10}, Embedding: []float32{1, 0, 0}, Score: 1.0},
		{ID: 2, SourceIDs: []types.ID{10}, Embedding: []float32{1, 0, 0}, Score: 0.9},
	}
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", items, []types.GateName{types.GateMinimality}, nil, nil)
	require.NoError(t, err)

	var minimality types.GateOutcome
	for _, g := range outcome.Gates {
		if g.Gate == types.GateMinimality {
			minimality = g
		}
	}
	assert.False(t, minimality.Passed)
}

func TestEvaluate_Minimality_AllowsSimilarItemsWithDifferentSources(t *testing.T) {
	eng := New(memory.New(), nil)
	items := []Item{
		{ID: 1, SourceIDs: []types.ID{10}, Embedding: []float32{1, 0, 0}, Score: 1.0},
		{ID: 2, SourceIDs: []types.ID{20}, Embedding: []float32{1, 0, 0}, Score: 0.9},
	}
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", items, []types.GateName{types.GateMinimality}, nil, nil)
	require.NoError(t, err)

	var minimality types.GateOutcome
	for _, g := range outcome.Gates {
		if g.Gate == types.GateMinimality {
			minimality = g
		}
	}
	assert.True(t, minimality.Passed)
}

func TestEvaluate_Coherence_FlagsOutOfOrderScore(t *testing.T) {
	eng := New(memory.New(), nil)
	items := []Item{
		{ID: 1, Score: 0.5},
		{ID: 2, Score: 0.9}, // scored higher than the preceding item
	}
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", items, []types.GateName{types.GateCoherence}, nil, nil)
	require.NoError(t, err)

	var coherence types.GateOutcome
	for _, g := range outcome.Gates {
		if g.Gate == types.GateCoherence {
			coherence = g
		}
	}
	assert.False(t, coherence.Passed)
	require.Len(t, coherence.Violations, 1)
	assert.Equal(t, types.ID(2), coherence.Violations[0].ItemID)
}

func TestEvaluate_Soundness_NoCheckerConfigured_Passes(t *testing.T) {
	eng := New(memory.New(), nil)
	items := []Item{{ID: 1, Content: "duplicate content"}}
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "consolidation.run", items, []types.GateName{types.GateSoundness}, nil, nil)
	require.NoError(t, err)

	var soundness types.GateOutcome
	for _, g := range outcome.Gates {
		if g.Gate == types.GateSoundness {
			soundness = g
		}
	}
	assert.True(t, soundness.Passed)
}

func TestRecordOutcomeAndHealth(t *testing.T) {
	eng := New(memory.New(), nil)
	outcome, _, err := eng.Evaluate(context.Background(), projectID, "retrieval.search", []Item{{ID: 1, Confidence: 0.9, Score: 1.0}}, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.RecordOutcome(context.Background(), outcome.ID, true, []string{"looked correct in review"}))

	report, err := eng.Health(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalDecisions)
	assert.Equal(t, 1, report.ResolvedDecisions)
	assert.Equal(t, 1.0, report.Accuracy)
}
