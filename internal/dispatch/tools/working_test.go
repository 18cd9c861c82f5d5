package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/working"
	"github.com/shawkridge/athena/internal/types"
)

type noopConsolidator struct{}

func (noopConsolidator) Consolidate(context.Context, types.WorkingMemoryItem, types.RoutingDecision) {}

func newWorkingRegistry(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	store := working.New(7, noopConsolidator{})
	reg := dispatch.NewRegistry()
	RegisterWorkingTools(reg, store)
	return dispatch.New(reg, nil, nil)
}

func TestWorkingPushTouchList(t *testing.T) {
	d := newWorkingRegistry(t)
	ctx := context.Background()

	pushResp := d.Dispatch(ctx, projectID, "working.push", map[string]any{"importance": 0.5, "recency": 0.9})
	require.Equal(t, types.ToolStatusOK, pushResp.Status)
	id := int64(pushResp.Data.(map[string]any)["id"].(types.ID))
	assert.False(t, pushResp.Data.(map[string]any)["consolidation_triggered"].(bool), "pushing below capacity must not trigger consolidation")

	touchResp := d.Dispatch(ctx, projectID, "working.touch", map[string]any{"id": id, "recency": 1.0})
	require.Equal(t, types.ToolStatusOK, touchResp.Status)
	assert.True(t, touchResp.Data.(map[string]any)["touched"].(bool))

	listResp := d.Dispatch(ctx, projectID, "working.list", nil)
	require.Equal(t, types.ToolStatusOK, listResp.Status)
	items := listResp.Data.(map[string]any)["items"].([]types.WorkingMemoryItem)
	assert.Len(t, items, 1)
}

func TestWorkingPush_ReportsConsolidationTriggeredAtCapacity(t *testing.T) {
	store := working.New(1, noopConsolidator{})
	reg := dispatch.NewRegistry()
	RegisterWorkingTools(reg, store)
	d := dispatch.New(reg, nil, nil)
	ctx := context.Background()

	first := d.Dispatch(ctx, projectID, "working.push", map[string]any{"recency": 0.1})
	require.Equal(t, types.ToolStatusOK, first.Status)
	assert.False(t, first.Data.(map[string]any)["consolidation_triggered"].(bool))

	second := d.Dispatch(ctx, projectID, "working.push", map[string]any{"recency": 0.9})
	require.Equal(t, types.ToolStatusOK, second.Status)
	assert.True(t, second.Data.(map[string]any)["consolidation_triggered"].(bool), "pushing past capacity must evict and report the trigger")
}
