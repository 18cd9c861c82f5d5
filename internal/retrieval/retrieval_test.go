package retrieval

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

type fakeEmbedder struct {
	dim int
	fn  func(string) []float32
	err error
	n   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return f.fn(text), nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func seedMemory(t *testing.T, db storage.Storage, content string, embedding []float32) types.ID {
	t.Helper()
	body, err := json.Marshal(types.SemanticMemory{Content: content, Embedding: embedding, SourceEventIDs: []types.ID{1}})
	require.NoError(t, err)
	id, err := db.Put(context.Background(), storage.NSSemanticMemories, storage.Record{
		ProjectID: 1,
		Body:      body,
		Content:   content,
		Embedding: embedding,
	})
	require.NoError(t, err)
	return types.ID(id)
}

func testConfig() *config.Config {
	return &config.Config{
		WeightSemanticRelevance: 0.35,
		WeightSourceQuality:     0.25,
		WeightRecency:           0.15,
		WeightConsistency:       0.15,
		WeightCompleteness:      0.10,
	}
}

func TestSearch_RanksBySemanticSimilarity(t *testing.T) {
	db := memory.New()
	seedMemory(t, db, "the deploy pipeline uses blue-green releases", []float32{1, 0, 0})
	seedMemory(t, db, "unrelated content about coffee", []float32{0, 1, 0})

	embedder := &fakeEmbedder{dim: 3, fn: func(string) []float32 { return []float32{1, 0, 0} }}
	engine := New(db, embedder, nil, nil, nil, nil, testConfig())

	result, err := engine.Search(context.Background(), 1, "deploy pipeline", 5, storage.NewFilter(1))
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	assert.False(t, result.EmbeddingFallback)
	assert.Contains(t, result.Hits[0].ContentExcerpt, "blue-green")
}

func TestSearch_FallsBackToLexicalWithoutEmbedder(t *testing.T) {
	db := memory.New()
	seedMemory(t, db, "how to build the release pipeline", nil)

	engine := New(db, nil, nil, nil, nil, nil, testConfig())

	result, err := engine.Search(context.Background(), 1, "how to build", 5, storage.NewFilter(1))
	require.NoError(t, err)
	assert.True(t, result.EmbeddingFallback)
}

func TestSearch_EmbedderFailureSetsFallbackFlag(t *testing.T) {
	db := memory.New()
	seedMemory(t, db, "some content here", nil)
	embedder := &fakeEmbedder{dim: 3, err: assertErr{}}

	engine := New(db, embedder, nil, nil, nil, nil, testConfig())
	result, err := engine.Search(context.Background(), 1, "some content", 5, storage.NewFilter(1))
	require.NoError(t, err)
	assert.True(t, result.EmbeddingFallback)
}

type assertErr struct{}

func (assertErr) Error() string { return "embedder unavailable" }

func TestEmbeddingCache_RepeatedTextHitsCache(t *testing.T) {
	embedder := &fakeEmbedder{dim: 2, fn: func(string) []float32 { return []float32{1, 2} }}
	cache := NewEmbeddingCache(16)

	vec1, err := cache.Embed(context.Background(), embedder, "hello")
	require.NoError(t, err)
	vec2, err := cache.Embed(context.Background(), embedder, "hello")
	require.NoError(t, err)

	assert.Equal(t, vec1, vec2)
	assert.Equal(t, 1, embedder.n, "second call should hit the cache, not the embedder")
}

func TestEmbeddingCache_DifferentDimensionsDoNotCollide(t *testing.T) {
	cache := NewEmbeddingCache(16)
	e1 := &fakeEmbedder{dim: 2, fn: func(string) []float32 { return []float32{1, 2} }}
	e2 := &fakeEmbedder{dim: 3, fn: func(string) []float32 { return []float32{1, 2, 3} }}

	v1, err := cache.Embed(context.Background(), e1, "hello")
	require.NoError(t, err)
	v2, err := cache.Embed(context.Background(), e2, "hello")
	require.NoError(t, err)

	assert.Len(t, v1, 2)
	assert.Len(t, v2, 3)
}

func TestFuseAcrossVariants_DeterministicOrdering(t *testing.T) {
	a := []storage.SearchHit{{ID: 1, CombinedScore: 0.9}, {ID: 2, CombinedScore: 0.5}}
	b := []storage.SearchHit{{ID: 2, CombinedScore: 0.8}, {ID: 1, CombinedScore: 0.4}}

	fused1, consistency1 := fuseAcrossVariants([][]storage.SearchHit{a, b}, 10)
	fused2, consistency2 := fuseAcrossVariants([][]storage.SearchHit{a, b}, 10)

	require.Equal(t, fused1, fused2)
	require.Equal(t, consistency1, consistency2)
}

func TestFuseAcrossVariants_ConsistencyReflectsVariantMembership(t *testing.T) {
	a := []storage.SearchHit{{ID: 1, CombinedScore: 0.9}, {ID: 2, CombinedScore: 0.5}}
	b := []storage.SearchHit{{ID: 1, CombinedScore: 0.4}}

	_, consistency := fuseAcrossVariants([][]storage.SearchHit{a, b}, 10)

	assert.Equal(t, 1.0, consistency[1], "id 1 appears in both variants")
	assert.Equal(t, 0.5, consistency[2], "id 2 appears in only one of two variants")
}
