package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage/memory"
)

func newTestStore() *Store {
	return New(memory.New())
}

func TestStart_RejectsSecondActiveSession(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Start(ctx, 1, "sess-a", "build feature")
	require.NoError(t, err)

	_, err = s.Start(ctx, 1, "sess-b", "fix bug")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestStart_AllowsNewSessionAfterEnd(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id, err := s.Start(ctx, 1, "sess-a", "build feature")
	require.NoError(t, err)
	require.NoError(t, s.End(ctx, id))

	_, err = s.Start(ctx, 1, "sess-b", "fix bug")
	assert.NoError(t, err)
}

func TestRecordEvent_RejectsOnEndedSession(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id, err := s.Start(ctx, 1, "sess-a", "build feature")
	require.NoError(t, err)
	require.NoError(t, s.End(ctx, id))

	err = s.RecordEvent(ctx, id, "note", nil)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
}

func TestRecordEvent_AppendsToTimeline(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id, err := s.Start(ctx, 1, "sess-a", "build feature")
	require.NoError(t, err)
	require.NoError(t, s.RecordEvent(ctx, id, "tool_call", map[string]any{"tool": "search"}))

	sess, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.Events, 1)
	assert.Equal(t, "tool_call", sess.Events[0].Type)
}

func TestEnd_IsIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	id, err := s.Start(ctx, 1, "sess-a", "build feature")
	require.NoError(t, err)

	require.NoError(t, s.End(ctx, id))
	require.NoError(t, s.End(ctx, id))
}

func TestReapStale_EndsSessionsPastMaxAge(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id, err := s.Start(ctx, 1, "sess-a", "build feature")
	require.NoError(t, err)

	sess, err := s.Get(ctx, id)
	require.NoError(t, err)
	sess.StartedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.save(ctx, sess))

	reaped, err := s.ReapStale(ctx, 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, id, reaped[0])

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Active())
}
