package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/meta"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newMetaRegistry(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	store := meta.New(memory.New())
	reg := dispatch.NewRegistry()
	RegisterMetaTools(reg, store)
	return dispatch.New(reg, nil, nil)
}

func TestRecordQuality_Success(t *testing.T) {
	d := newMetaRegistry(t)
	resp := d.Dispatch(context.Background(), projectID, "memory.record_quality", map[string]any{
		"layer":      string(types.LayerSemantic),
		"subject_id": int64(7),
		"score":      0.9,
	})
	assert.Equal(t, types.ToolStatusOK, resp.Status)
}

func TestDetectGaps_EmptyProjectReturnsZeroCoverage(t *testing.T) {
	d := newMetaRegistry(t)
	resp := d.Dispatch(context.Background(), projectID, "memory.detect_gaps", nil)
	require.Equal(t, types.ToolStatusOK, resp.Status)
	report := resp.Data.(map[string]any)["report"].(*types.GapReport)
	assert.Empty(t, report.Contradictions)
}
