package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/procedural"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newProceduralRegistry(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	store := procedural.New(memory.New(), nil)
	reg := dispatch.NewRegistry()
	RegisterProceduralTools(reg, store)
	return dispatch.New(reg, nil, nil)
}

func TestProcedureCreateAndFindApplicable(t *testing.T) {
	d := newProceduralRegistry(t)
	ctx := context.Background()

	createResp := d.Dispatch(ctx, projectID, "procedure.create", map[string]any{
		"name":     "deploy service",
		"category": "deployment",
		"steps": []any{
			map[string]any{"action_kind": "shell", "inputs": map[string]any{"cmd": "make deploy"}},
		},
	})
	require.Equal(t, types.ToolStatusOK, createResp.Status)

	findResp := d.Dispatch(ctx, projectID, "procedure.find_applicable", map[string]any{
		"context_tags": []any{"deployment"},
	})
	require.Equal(t, types.ToolStatusOK, findResp.Status)
	procs := findResp.Data.(map[string]any)["procedures"].([]*types.Procedure)
	require.Len(t, procs, 1)
	assert.Equal(t, "deploy service", procs[0].Name)
}

func TestProcedureExecute_NoExecutorConfigured(t *testing.T) {
	d := newProceduralRegistry(t)
	ctx := context.Background()

	createResp := d.Dispatch(ctx, projectID, "procedure.create", map[string]any{
		"name": "noop",
		"steps": []any{
			map[string]any{"action_kind": "noop"},
		},
	})
	require.Equal(t, types.ToolStatusOK, createResp.Status)
	id := int64(createResp.Data.(map[string]any)["id"].(types.ID))

	execResp := d.Dispatch(ctx, projectID, "procedure.execute", map[string]any{"id": id})
	assert.Equal(t, types.ToolStatusError, execResp.Status)
}
