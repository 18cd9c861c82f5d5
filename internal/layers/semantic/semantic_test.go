package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

type fakeEmbedder struct {
	dim int
	fn  func(text string) []float32
	err error
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fn(text), nil
}

func newTestStore(embedder Embedder) *Store {
	return New(memory.New(), embedder)
}

func TestStore_RequiresSourceOrDerived(t *testing.T) {
	s := newTestStore(nil)
	_, err := s.Store(context.Background(), &types.SemanticMemory{ProjectID: 1, Content: "fact"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestStore_RejectsOversizedContent(t *testing.T) {
	s := newTestStore(nil)
	m := &types.SemanticMemory{ProjectID: 1, Content: string(make([]byte, types.MaxSemanticContentBytes+1)), SourceEventIDs: []types.ID{1}}
	_, err := s.Store(context.Background(), m)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestStore_DerivesLexicalToken(t *testing.T) {
	s := newTestStore(nil)
	ctx := context.Background()
	id, err := s.Store(ctx, &types.SemanticMemory{ProjectID: 1, Content: "Auth Failures Happen Often", SourceEventIDs: []types.ID{1}})
	require.NoError(t, err)

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "auth failures happen often", m.LexicalToken)
}

func TestSearchVector_RanksByCosine(t *testing.T) {
	s := newTestStore(nil)
	ctx := context.Background()

	_, err := s.Store(ctx, &types.SemanticMemory{ProjectID: 1, Content: "a", SourceEventIDs: []types.ID{1}, Embedding: []float32{1, 0}})
	require.NoError(t, err)
	_, err = s.Store(ctx, &types.SemanticMemory{ProjectID: 1, Content: "b", SourceEventIDs: []types.ID{1}, Embedding: []float32{0, 1}})
	require.NoError(t, err)

	results, err := s.SearchVector(ctx, 1, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Content)
}

func TestRecall_EmbeddingUnavailableWithoutEmbedder(t *testing.T) {
	s := newTestStore(nil)
	_, err := s.Recall(context.Background(), 1, "query", 5)
	assert.ErrorIs(t, err, apperr.ErrEmbeddingUnavailable)
}

func TestRecall_PropagatesEmbedderFailure(t *testing.T) {
	s := newTestStore(&fakeEmbedder{dim: 2, err: errors.New("boom")})
	_, err := s.Recall(context.Background(), 1, "query", 5)
	assert.ErrorIs(t, err, apperr.ErrEmbeddingUnavailable)
}

func TestRecall_HybridSearch(t *testing.T) {
	embedder := &fakeEmbedder{dim: 2, fn: func(text string) []float32 { return []float32{1, 0} }}
	s := newTestStore(embedder)
	ctx := context.Background()

	_, err := s.Store(ctx, &types.SemanticMemory{
		ProjectID: 1, Content: "deploy rollback procedure",
		SourceEventIDs: []types.ID{1}, Embedding: []float32{1, 0},
	})
	require.NoError(t, err)

	results, err := s.Recall(ctx, 1, "rollback", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}
