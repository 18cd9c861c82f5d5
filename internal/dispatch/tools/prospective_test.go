package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/prospective"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newProspectiveRegistry(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	store := prospective.New(memory.New())
	reg := dispatch.NewRegistry()
	RegisterProspectiveTools(reg, store)
	return dispatch.New(reg, nil, nil)
}

func TestGoalCreateActivateComplete(t *testing.T) {
	d := newProspectiveRegistry(t)
	ctx := context.Background()

	depResp := d.Dispatch(ctx, projectID, "goal.create", map[string]any{"title": "write design doc"})
	require.Equal(t, types.ToolStatusOK, depResp.Status)
	depID := int64(depResp.Data.(map[string]any)["id"].(types.ID))

	depCompleteResp := d.Dispatch(ctx, projectID, "goal.complete", map[string]any{"id": depID})
	require.Equal(t, types.ToolStatusOK, depCompleteResp.Status)

	goalResp := d.Dispatch(ctx, projectID, "goal.create", map[string]any{
		"title":        "ship feature",
		"dependencies": []any{depID},
	})
	require.Equal(t, types.ToolStatusOK, goalResp.Status)
	goalID := int64(goalResp.Data.(map[string]any)["id"].(types.ID))

	activateResp := d.Dispatch(ctx, projectID, "goal.activate", map[string]any{"id": goalID})
	assert.Equal(t, types.ToolStatusOK, activateResp.Status)
}

func TestGoalActivate_BlockedByIncompleteDependency(t *testing.T) {
	d := newProspectiveRegistry(t)
	ctx := context.Background()

	depResp := d.Dispatch(ctx, projectID, "goal.create", map[string]any{"title": "unfinished prerequisite"})
	require.Equal(t, types.ToolStatusOK, depResp.Status)
	depID := int64(depResp.Data.(map[string]any)["id"].(types.ID))

	goalResp := d.Dispatch(ctx, projectID, "goal.create", map[string]any{
		"title":        "blocked goal",
		"dependencies": []any{depID},
	})
	require.Equal(t, types.ToolStatusOK, goalResp.Status)
	goalID := int64(goalResp.Data.(map[string]any)["id"].(types.ID))

	activateResp := d.Dispatch(ctx, projectID, "goal.activate", map[string]any{"id": goalID})
	assert.Equal(t, types.ToolStatusError, activateResp.Status)
}

func TestGoalHierarchyAndConflicts(t *testing.T) {
	d := newProspectiveRegistry(t)
	ctx := context.Background()

	createResp := d.Dispatch(ctx, projectID, "goal.create", map[string]any{"title": "root goal"})
	require.Equal(t, types.ToolStatusOK, createResp.Status)

	hierResp := d.Dispatch(ctx, projectID, "goal.hierarchy", nil)
	require.Equal(t, types.ToolStatusOK, hierResp.Status)
	tasks := hierResp.Data.(map[string]any)["tasks"].([]*types.ProspectiveTask)
	assert.Len(t, tasks, 1)

	conflictsResp := d.Dispatch(ctx, projectID, "goal.conflicts", nil)
	require.Equal(t, types.ToolStatusOK, conflictsResp.Status)
	conflicts := conflictsResp.Data.(map[string]any)["conflicts"].([]types.TaskConflict)
	assert.Empty(t, conflicts)
}
