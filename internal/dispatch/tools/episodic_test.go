package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/episodic"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newEpisodicRegistry(t *testing.T) (*dispatch.Dispatcher, *episodic.Store) {
	t.Helper()
	store := episodic.New(memory.New(), nil)
	reg := dispatch.NewRegistry()
	RegisterEpisodicTools(reg, store)
	return dispatch.New(reg, nil, nil), store
}

func TestRecordEvent_Success(t *testing.T) {
	d, _ := newEpisodicRegistry(t)

	resp := d.Dispatch(context.Background(), projectID, "memory.record_event", map[string]any{
		"session_id": "s1",
		"event_type": string(types.EventAction),
		"content":    "ran the test suite",
	})
	require.Equal(t, types.ToolStatusOK, resp.Status)
	data := resp.Data.(map[string]any)
	assert.NotZero(t, data["id"])
}

func TestRecordEvent_MissingRequired(t *testing.T) {
	d, _ := newEpisodicRegistry(t)

	resp := d.Dispatch(context.Background(), projectID, "memory.record_event", map[string]any{
		"event_type": string(types.EventAction),
		"content":    "x",
	})
	assert.Equal(t, types.ToolStatusError, resp.Status)
}

func TestTimeline_ReturnsMostRecentEventsNotOldest(t *testing.T) {
	d, store := newEpisodicRegistry(t)
	ctx := context.Background()

	// Distinct content per event, so the store's content-hash dedup keeps
	// all five.
	var ids []types.ID
	for i := 0; i < 5; i++ {
		id, err := store.CreateEvent(ctx, &types.EpisodicEvent{
			ProjectID: projectID,
			SessionID: "s1",
			EventType: types.EventAction,
			Content:   "event " + string(rune('a'+i)),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	resp := d.Dispatch(ctx, projectID, "memory.timeline", map[string]any{"limit": 2})
	require.Equal(t, types.ToolStatusOK, resp.Status)
	data := resp.Data.(map[string]any)
	events := data["events"].([]*types.EpisodicEvent)
	require.Len(t, events, 2)
	// Store orders (timestamp ASC, id ASC); the tail slice is the most
	// recently created pair, so the last two ids registered must come back.
	assert.True(t, events[0].ID < events[1].ID)
	assert.Equal(t, ids[3], events[0].ID)
	assert.Equal(t, ids[4], events[1].ID)
}

func TestTimeline_FiltersBySession(t *testing.T) {
	d, store := newEpisodicRegistry(t)
	ctx := context.Background()

	_, err := store.CreateEvent(ctx, &types.EpisodicEvent{ProjectID: projectID, SessionID: "a", EventType: types.EventAction, Content: "x"})
	require.NoError(t, err)
	_, err = store.CreateEvent(ctx, &types.EpisodicEvent{ProjectID: projectID, SessionID: "b", EventType: types.EventAction, Content: "y"})
	require.NoError(t, err)

	resp := d.Dispatch(ctx, projectID, "memory.timeline", map[string]any{"session_id": "a"})
	require.Equal(t, types.ToolStatusOK, resp.Status)
	data := resp.Data.(map[string]any)
	events := data["events"].([]*types.EpisodicEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].SessionID)
}

func TestBatchRecordEvents_Success(t *testing.T) {
	d, _ := newEpisodicRegistry(t)

	resp := d.Dispatch(context.Background(), projectID, "memory.batch_record_events", map[string]any{
		"events": []any{
			map[string]any{"session_id": "s1", "event_type": string(types.EventAction), "content": "first"},
			map[string]any{"session_id": "s1", "event_type": string(types.EventAction), "content": "second"},
		},
	})
	require.Equal(t, types.ToolStatusOK, resp.Status)
	ids := resp.Data.(map[string]any)["ids"].([]types.ID)
	assert.Len(t, ids, 2)
}

func TestRecallByTime_FiltersByEventType(t *testing.T) {
	d, store := newEpisodicRegistry(t)
	ctx := context.Background()

	_, err := store.CreateEvent(ctx, &types.EpisodicEvent{ProjectID: projectID, SessionID: "s1", EventType: types.EventAction, Content: "a"})
	require.NoError(t, err)
	_, err = store.CreateEvent(ctx, &types.EpisodicEvent{ProjectID: projectID, SessionID: "s1", EventType: types.EventError, Content: "b"})
	require.NoError(t, err)

	resp := d.Dispatch(ctx, projectID, "memory.recall_by_time", map[string]any{"event_type": string(types.EventError)})
	require.Equal(t, types.ToolStatusOK, resp.Status)
	events := resp.Data.(map[string]any)["events"].([]*types.EpisodicEvent)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].EventType)
}
