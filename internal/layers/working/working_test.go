package working

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/types"
)

type recordingConsolidator struct {
	mu      sync.Mutex
	evicted []types.WorkingMemoryItem
}

func (r *recordingConsolidator) Consolidate(_ context.Context, item types.WorkingMemoryItem, _ types.RoutingDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, item)
}

func TestAdd_EvictsLowestCompositeAtCapacity(t *testing.T) {
	cons := &recordingConsolidator{}
	s := New(2, cons)
	ctx := context.Background()

	_, evicted1 := s.Add(ctx, types.WorkingMemoryItem{ProjectID: 1, EventID: 1, RecencyScore: 0.1, ImportanceScore: 0.1, DistinctivenessScore: 0.1})
	_, evicted2 := s.Add(ctx, types.WorkingMemoryItem{ProjectID: 1, EventID: 2, RecencyScore: 0.9, ImportanceScore: 0.9, DistinctivenessScore: 0.9})
	_, evicted3 := s.Add(ctx, types.WorkingMemoryItem{ProjectID: 1, EventID: 3, RecencyScore: 0.5, ImportanceScore: 0.5, DistinctivenessScore: 0.5})

	require.Equal(t, 2, s.Len(1))
	require.Len(t, cons.evicted, 1)
	assert.Equal(t, types.ID(1), cons.evicted[0].EventID)
	assert.False(t, evicted1, "inserting below capacity must not trigger eviction")
	assert.False(t, evicted2, "inserting up to capacity must not trigger eviction")
	assert.True(t, evicted3, "inserting past capacity must trigger eviction")
}

func TestAdd_ProjectsAreIsolated(t *testing.T) {
	s := New(1, nil)
	ctx := context.Background()
	s.Add(ctx, types.WorkingMemoryItem{ProjectID: 1, EventID: 1})
	s.Add(ctx, types.WorkingMemoryItem{ProjectID: 2, EventID: 1})
	assert.Equal(t, 1, s.Len(1))
	assert.Equal(t, 1, s.Len(2))
}

func TestTouch_UpdatesRecency(t *testing.T) {
	s := New(5, nil)
	ctx := context.Background()
	id, _ := s.Add(ctx, types.WorkingMemoryItem{ProjectID: 1, EventID: 1, RecencyScore: 0.1})

	require.True(t, s.Touch(1, id, 0.9))

	items := s.List(1)
	require.Len(t, items, 1)
	assert.Equal(t, 0.9, items[0].RecencyScore)
}

func TestTouch_UnknownItemReturnsFalse(t *testing.T) {
	s := New(5, nil)
	assert.False(t, s.Touch(1, 999, 0.9))
}

func TestList_OrdersByDescendingComposite(t *testing.T) {
	s := New(5, nil)
	ctx := context.Background()
	s.Add(ctx, types.WorkingMemoryItem{ProjectID: 1, EventID: 1, RecencyScore: 0.1, ImportanceScore: 0.1, DistinctivenessScore: 0.1})
	s.Add(ctx, types.WorkingMemoryItem{ProjectID: 1, EventID: 2, RecencyScore: 0.9, ImportanceScore: 0.9, DistinctivenessScore: 0.9})

	items := s.List(1)
	require.Len(t, items, 2)
	assert.Equal(t, types.ID(2), items[0].EventID)
	assert.Equal(t, types.ID(1), items[1].EventID)
}
