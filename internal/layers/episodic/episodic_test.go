package episodic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/pii"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newTestStore() *Store {
	return New(memory.New(), nil)
}

func sampleEvent(sessionID string, ts time.Time) *types.EpisodicEvent {
	return &types.EpisodicEvent{
		ProjectID: 1,
		SessionID: sessionID,
		Timestamp: ts,
		EventType: types.EventAction,
		Content:   "built the project",
		Outcome:   types.OutcomeSuccess,
	}
}

func TestCreateEvent_RoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id, err := s.CreateEvent(ctx, sampleEvent("sess-1", time.Now()))
	require.NoError(t, err)
	require.NotZero(t, id)

	e, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "built the project", e.Content)
	assert.Equal(t, types.ConsolidationPending, e.ConsolidationStatus)
}

func TestCreateEvent_DuplicateHashReturnsExistingID(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	ts := time.Now()

	first, err := s.CreateEvent(ctx, sampleEvent("sess-1", ts))
	require.NoError(t, err)

	second, err := s.CreateEvent(ctx, sampleEvent("sess-1", ts))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCreateEvent_RejectsOversizedContent(t *testing.T) {
	s := newTestStore()
	e := sampleEvent("sess-1", time.Now())
	e.Content = string(make([]byte, types.MaxContentBytes+1))
	_, err := s.CreateEvent(context.Background(), e)
	assert.Error(t, err)
}

func TestBatchCreate_Atomic(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	ts := time.Now()

	events := []*types.EpisodicEvent{
		sampleEvent("sess-1", ts),
		sampleEvent("sess-1", ts.Add(time.Second)),
	}
	ids, err := s.BatchCreate(ctx, events)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestRecallByTime_FiltersAndOrders(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	base := time.Now()

	e1 := sampleEvent("sess-1", base)
	e2 := sampleEvent("sess-1", base.Add(2*time.Hour))
	e2.EventType = types.EventError
	e3 := sampleEvent("sess-1", base.Add(time.Hour))

	_, err := s.CreateEvent(ctx, e1)
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, e2)
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, e3)
	require.NoError(t, err)

	window := types.TimeRange{Start: base.Add(-time.Minute), End: base.Add(3 * time.Hour)}
	results, err := s.RecallByTime(ctx, 1, window, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Timestamp.Before(results[1].Timestamp) || results[0].Timestamp.Equal(results[1].Timestamp))
	assert.True(t, results[1].Timestamp.Before(results[2].Timestamp) || results[1].Timestamp.Equal(results[2].Timestamp))

	errType := types.EventError
	onlyErrors, err := s.RecallByTime(ctx, 1, window, &errType)
	require.NoError(t, err)
	require.Len(t, onlyErrors, 1)
	assert.Equal(t, types.EventError, onlyErrors[0].EventType)
}

func TestRecallBySession(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	base := time.Now()

	_, err := s.CreateEvent(ctx, sampleEvent("sess-a", base))
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, sampleEvent("sess-b", base))
	require.NoError(t, err)

	results, err := s.RecallBySession(ctx, 1, "sess-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sess-a", results[0].SessionID)
}

func TestCreateEvent_DiffersOnDiffFieldDoesNotDedup(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	ts := time.Now()

	e1 := sampleEvent("sess-1", ts)
	e1.Diff = "+added a line"
	e2 := sampleEvent("sess-1", ts)
	e2.Diff = "+added a different line"

	first, err := s.CreateEvent(ctx, e1)
	require.NoError(t, err)
	second, err := s.CreateEvent(ctx, e2)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "events differing only in Diff must not be treated as duplicates")
}

func TestCreateEvent_AppliesPIIPolicyBeforeHashing(t *testing.T) {
	profile := pii.NewProfile("strict", nil, map[string]pii.FieldPolicy{
		"content": {Action: pii.ActionRedact},
	}, pii.ActionPassThrough)
	s := New(memory.New(), profile)
	ctx := context.Background()

	e := sampleEvent("sess-1", time.Now())
	e.Content = "ssn 123-45-6789"
	id, err := s.CreateEvent(ctx, e)
	require.NoError(t, err)

	stored, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", stored.Content)
}

func TestMarkConsolidated(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id, err := s.CreateEvent(ctx, sampleEvent("sess-1", time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.MarkConsolidated(ctx, id, time.Now()))

	e, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ConsolidationDone, e.ConsolidationStatus)
	assert.NotNil(t, e.ConsolidatedAt)
}
