package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/graph"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newGraphRegistry(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	store := graph.New(memory.New())
	reg := dispatch.NewRegistry()
	RegisterGraphTools(reg, store)
	return dispatch.New(reg, nil, nil)
}

func TestGraphCreateEntityAndRelation(t *testing.T) {
	d := newGraphRegistry(t)
	ctx := context.Background()

	aResp := d.Dispatch(ctx, projectID, "graph.create_entity", map[string]any{"name": "parser", "type": string(types.EntityFile)})
	require.Equal(t, types.ToolStatusOK, aResp.Status)
	aID := int64(aResp.Data.(map[string]any)["id"].(types.ID))

	bResp := d.Dispatch(ctx, projectID, "graph.create_entity", map[string]any{"name": "lexer", "type": string(types.EntityFile)})
	require.Equal(t, types.ToolStatusOK, bResp.Status)
	bID := int64(bResp.Data.(map[string]any)["id"].(types.ID))

	relResp := d.Dispatch(ctx, projectID, "graph.create_relation", map[string]any{
		"from_id": aID, "to_id": bID, "type": string(types.RelationDependsOn),
	})
	assert.Equal(t, types.ToolStatusOK, relResp.Status)
}

func TestGraphNeighborsAndPath(t *testing.T) {
	d := newGraphRegistry(t)
	ctx := context.Background()

	aID := int64(d.Dispatch(ctx, projectID, "graph.create_entity", map[string]any{"name": "a"}).Data.(map[string]any)["id"].(types.ID))
	bID := int64(d.Dispatch(ctx, projectID, "graph.create_entity", map[string]any{"name": "b"}).Data.(map[string]any)["id"].(types.ID))
	require.Equal(t, types.ToolStatusOK, d.Dispatch(ctx, projectID, "graph.create_relation", map[string]any{
		"from_id": aID, "to_id": bID, "type": string(types.RelationRelatesTo),
	}).Status)

	neighborsResp := d.Dispatch(ctx, projectID, "graph.neighbors", map[string]any{"entity_id": aID})
	require.Equal(t, types.ToolStatusOK, neighborsResp.Status)
	neighbors := neighborsResp.Data.(map[string]any)["entity_ids"].([]types.ID)
	assert.Contains(t, neighbors, types.ID(bID))

	pathResp := d.Dispatch(ctx, projectID, "graph.path", map[string]any{"from_id": aID, "to_id": bID})
	require.Equal(t, types.ToolStatusOK, pathResp.Status)
	path := pathResp.Data.(map[string]any)["entity_ids"].([]types.ID)
	assert.NotEmpty(t, path)
}

func TestGraphCommunities_EmptyGraph(t *testing.T) {
	d := newGraphRegistry(t)
	resp := d.Dispatch(context.Background(), projectID, "graph.communities", nil)
	require.Equal(t, types.ToolStatusOK, resp.Status)
	communities := resp.Data.(map[string]any)["communities"].(map[types.ID][]types.ID)
	assert.Empty(t, communities)
}
