package meta

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newTestStore() *Store {
	return New(memory.New())
}

func putSemanticMemory(t *testing.T, db storage.Storage, m *types.SemanticMemory) types.ID {
	t.Helper()
	body, err := json.Marshal(m)
	require.NoError(t, err)
	id, err := db.Put(context.Background(), storage.NSSemanticMemories, storage.Record{
		ProjectID: int64(m.ProjectID),
		Body:      body,
	})
	require.NoError(t, err)
	return types.ID(id)
}

func TestRecordQuality_UpsertsBySubject(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	subject := types.SubjectRef{Layer: types.LayerSemantic, ID: 42}

	id1, err := s.RecordQuality(ctx, 1, subject, 0.9)
	require.NoError(t, err)

	id2, err := s.RecordQuality(ctx, 1, subject, 0.5)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	entry, err := s.findBySubject(ctx, 1, subject)
	require.NoError(t, err)
	assert.Equal(t, 0.5, entry.ObservedQuality)
}

func TestDetectGaps_FindsPolarityContradiction(t *testing.T) {
	db := memory.New()
	s := New(db)
	ctx := context.Background()

	embedding := []float32{1, 0, 0}
	putSemanticMemory(t, db, &types.SemanticMemory{ProjectID: 1, Content: "the service is healthy", Embedding: embedding, Confidence: 0.9})
	putSemanticMemory(t, db, &types.SemanticMemory{ProjectID: 1, Content: "the service is not healthy", Embedding: embedding, Confidence: 0.9})

	report, err := s.DetectGaps(ctx, 1)
	require.NoError(t, err)
	require.Len(t, report.Contradictions, 1)
}

func TestDetectGaps_FlagsLowConfidenceAsUncertainty(t *testing.T) {
	db := memory.New()
	s := New(db)
	ctx := context.Background()

	putSemanticMemory(t, db, &types.SemanticMemory{ProjectID: 1, Content: "maybe true", Confidence: 0.1})

	report, err := s.DetectGaps(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, report.Uncertainties, 1)
}

func TestDetectGaps_CoverageScoreReflectsEmbeddedFraction(t *testing.T) {
	db := memory.New()
	s := New(db)
	ctx := context.Background()

	putSemanticMemory(t, db, &types.SemanticMemory{ProjectID: 1, Content: "a", Embedding: []float32{1, 0}})
	putSemanticMemory(t, db, &types.SemanticMemory{ProjectID: 1, Content: "b"})

	report, err := s.DetectGaps(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, report.CoverageScore)
}

func TestDetectGaps_EmptyProjectHasZeroCoverage(t *testing.T) {
	s := newTestStore()
	report, err := s.DetectGaps(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.CoverageScore)
	assert.Empty(t, report.Contradictions)
}
