package prospective

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func newTestStore() *Store {
	return New(memory.New())
}

func TestActivate_FailsOnUnsatisfiedDependency(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	depID, err := s.CreateTask(ctx, &types.ProspectiveTask{ProjectID: 1, Title: "dep"})
	require.NoError(t, err)
	id, err := s.CreateTask(ctx, &types.ProspectiveTask{ProjectID: 1, Title: "main", Dependencies: []types.ID{depID}})
	require.NoError(t, err)

	err = s.Activate(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
}

func TestActivate_SucceedsWhenDependenciesComplete(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	depID, err := s.CreateTask(ctx, &types.ProspectiveTask{ProjectID: 1, Title: "dep"})
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, depID, types.TaskCompleted))

	id, err := s.CreateTask(ctx, &types.ProspectiveTask{ProjectID: 1, Title: "main", Dependencies: []types.ID{depID}})
	require.NoError(t, err)

	require.NoError(t, s.Activate(ctx, id))
	task, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskActive, task.Status)
}

func TestComplete_RejectsNonTerminalOutcome(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	id, err := s.CreateTask(ctx, &types.ProspectiveTask{ProjectID: 1, Title: "t"})
	require.NoError(t, err)

	err = s.Complete(ctx, id, types.TaskActive)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestDetectConflicts_DependencyCycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	a, err := s.CreateTask(ctx, &types.ProspectiveTask{ProjectID: 1, Title: "a"})
	require.NoError(t, err)
	b, err := s.CreateTask(ctx, &types.ProspectiveTask{ProjectID: 1, Title: "b", Dependencies: []types.ID{a}})
	require.NoError(t, err)

	ta, err := s.Get(ctx, a)
	require.NoError(t, err)
	ta.Dependencies = []types.ID{b}
	require.NoError(t, s.save(ctx, ta))

	conflicts, err := s.DetectConflicts(ctx, 1)
	require.NoError(t, err)

	var foundCycle bool
	for _, c := range conflicts {
		if c.Kind == types.ConflictDependencyCycle {
			foundCycle = true
		}
	}
	assert.True(t, foundCycle, "expected a dependency cycle conflict")
}

func TestDetectConflicts_CapacityOverload(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := s.CreateTask(ctx, &types.ProspectiveTask{
			ProjectID: 1, Title: "t", Owner: "alice", Status: types.TaskActive,
		})
		require.NoError(t, err)
	}

	conflicts, err := s.DetectConflicts(ctx, 1)
	require.NoError(t, err)

	var found bool
	for _, c := range conflicts {
		if c.Kind == types.ConflictCapacityOverload {
			found = true
		}
	}
	assert.True(t, found, "expected a capacity overload conflict")
}
