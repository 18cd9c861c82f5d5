package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/storage/memory"
)

func TestSearch_GateKeepsGroundedHits(t *testing.T) {
	db := memory.New()
	seedMemory(t, db, "the deploy pipeline uses blue-green releases", []float32{1, 0, 0})

	embedder := &fakeEmbedder{dim: 3, fn: func(string) []float32 { return []float32{1, 0, 0} }}
	engine := New(db, embedder, nil, nil, gateway.New(db, nil), nil, testConfig())

	result, err := engine.Search(context.Background(), 1, "deploy pipeline", 5, storage.NewFilter(1))
	require.NoError(t, err)
	assert.NotEmpty(t, result.Hits, "a hit backed by a real stored memory must survive the grounding gate")
}
