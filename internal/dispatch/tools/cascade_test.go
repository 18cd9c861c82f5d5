package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/cascade"
	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/meta"
	"github.com/shawkridge/athena/internal/layers/session"
	"github.com/shawkridge/athena/internal/retrieval"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func testCascadeConfig() *config.Config {
	return &config.Config{
		WeightSemanticRelevance:      0.35,
		WeightSourceQuality:          0.25,
		WeightRecency:                0.15,
		WeightConsistency:            0.15,
		WeightCompleteness:           0.10,
		CascadingConfidenceThreshold: 0.6,
	}
}

func TestRecall_ToolDispatchesToOrchestrator(t *testing.T) {
	db := memory.New()
	body, err := json.Marshal(types.SemanticMemory{Content: "the deploy pipeline uses blue-green releases", SourceEventIDs: []types.ID{1}})
	require.NoError(t, err)
	_, err = db.Put(context.Background(), storage.NSSemanticMemories, storage.Record{
		ProjectID: int64(projectID),
		Body:      body,
		Content:   "the deploy pipeline uses blue-green releases",
	})
	require.NoError(t, err)

	cfg := testCascadeConfig()
	engine := retrieval.New(db, nil, nil, nil, nil, nil, cfg)
	orch := cascade.New(db, engine, meta.New(db), session.New(db), nil, cfg)

	reg := dispatch.NewRegistry()
	RegisterCascadeTools(reg, orch)
	d := dispatch.New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "memory.recall", map[string]any{"query": "deploy pipeline"})
	require.Equal(t, types.ToolStatusOK, resp.Status)
	cr := resp.Data.(*cascade.Response)
	assert.GreaterOrEqual(t, cr.CascadeDepth, 1)
}

func TestRecall_MissingQuery_InvalidArgument(t *testing.T) {
	db := memory.New()
	cfg := testCascadeConfig()
	engine := retrieval.New(db, nil, nil, nil, nil, nil, cfg)
	orch := cascade.New(db, engine, meta.New(db), session.New(db), nil, cfg)

	reg := dispatch.NewRegistry()
	RegisterCascadeTools(reg, orch)
	d := dispatch.New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "memory.recall", map[string]any{})
	assert.Equal(t, types.ToolStatusError, resp.Status)
}
