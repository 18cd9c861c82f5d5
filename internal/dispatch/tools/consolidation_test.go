package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/consolidation"
	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/episodic"
	"github.com/shawkridge/athena/internal/layers/graph"
	"github.com/shawkridge/athena/internal/layers/procedural"
	"github.com/shawkridge/athena/internal/layers/semantic"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func TestConsolidate_RunsOnEmptyProject(t *testing.T) {
	db := memory.New()
	eng := consolidation.New(db, episodic.New(db, nil), semantic.New(db, nil), procedural.New(db, nil), graph.New(db), nil, nil, nil, nil, nil)

	reg := dispatch.NewRegistry()
	RegisterConsolidationTools(reg, eng)
	d := dispatch.New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "memory.consolidate", nil)
	require.Equal(t, types.ToolStatusOK, resp.Status)
	run := resp.Data.(*types.ConsolidationRun)
	assert.Equal(t, types.TriggerManual, run.Trigger)
}
