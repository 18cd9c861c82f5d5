package procedural

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

type fakeExecutor struct {
	outcome    types.Outcome
	durationMs int64
	err        error
}

func (f *fakeExecutor) Execute(_ context.Context, _ []types.Step, _ map[string]any) (types.Outcome, int64, error) {
	return f.outcome, f.durationMs, f.err
}

func newTestStore(exec Executor) *Store {
	return New(memory.New(), exec)
}

func TestCreate_RejectsDuplicateName(t *testing.T) {
	s := newTestStore(nil)
	ctx := context.Background()
	p := &types.Procedure{ProjectID: 1, Name: "deploy"}
	_, err := s.Create(ctx, p)
	require.NoError(t, err)

	_, err = s.Create(ctx, &types.Procedure{ProjectID: 1, Name: "deploy"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestFindApplicable_RanksByMatchThenSuccessRate(t *testing.T) {
	s := newTestStore(nil)
	ctx := context.Background()

	idA, err := s.Create(ctx, &types.Procedure{ProjectID: 1, Name: "a", Category: "deploy", SuccessRate: 0.5})
	require.NoError(t, err)
	idB, err := s.Create(ctx, &types.Procedure{ProjectID: 1, Name: "b", Category: "deploy", SuccessRate: 0.9})
	require.NoError(t, err)
	_, err = s.Create(ctx, &types.Procedure{ProjectID: 1, Name: "c", Category: "rollback", SuccessRate: 1.0})
	require.NoError(t, err)

	results, err := s.FindApplicable(ctx, 1, []string{"deploy"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, idB, results[0].ID)
	assert.Equal(t, idA, results[1].ID)
}

func TestExecute_UpdatesStatsAtomically(t *testing.T) {
	s := newTestStore(&fakeExecutor{outcome: types.OutcomeSuccess, durationMs: 100})
	ctx := context.Background()

	id, err := s.Create(ctx, &types.Procedure{ProjectID: 1, Name: "deploy"})
	require.NoError(t, err)

	outcome, err := s.Execute(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, outcome)

	p, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Executions)
	assert.Equal(t, 1.0, p.SuccessRate)
	assert.Equal(t, 100.0, p.AvgDurationMs)
}

func TestExecute_NoExecutorConfigured(t *testing.T) {
	s := newTestStore(nil)
	ctx := context.Background()
	id, err := s.Create(ctx, &types.Procedure{ProjectID: 1, Name: "deploy"})
	require.NoError(t, err)

	_, err = s.Execute(ctx, id, nil)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
}

func TestRollbackTo_CreatesNewVersionFromHistory(t *testing.T) {
	s := newTestStore(nil)
	ctx := context.Background()

	p := &types.Procedure{
		ProjectID: 1, Name: "deploy", Version: 2,
		Steps: []types.Step{{ActionKind: "current"}},
		PreviousVersions: []types.ProcedureVersion{
			{Version: 1, Steps: []types.Step{{ActionKind: "old"}}},
		},
	}
	id, err := s.Create(ctx, p)
	require.NoError(t, err)

	require.NoError(t, s.RollbackTo(ctx, id, 1))

	updated, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
	assert.Equal(t, "old", updated.Steps[0].ActionKind)
	require.Len(t, updated.PreviousVersions, 2)
}

func TestRollbackTo_UnknownVersion(t *testing.T) {
	s := newTestStore(nil)
	ctx := context.Background()
	id, err := s.Create(ctx, &types.Procedure{ProjectID: 1, Name: "deploy"})
	require.NoError(t, err)

	err = s.RollbackTo(ctx, id, 99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
