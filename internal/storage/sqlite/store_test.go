package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "athena.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_HealthCheckPasses(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.HealthCheck(context.Background()))
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, storage.NSEpisodicEvents, storage.Record{
		ProjectID: 1,
		Fields:    map[string]any{"event_type": "ACTION"},
		Body:      []byte(`{"content":"built successfully"}`),
		Content:   "built successfully",
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	rec, err := s.Get(ctx, storage.NSEpisodicEvents, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ProjectID)
	assert.Equal(t, "ACTION", rec.Fields["event_type"])
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), storage.NSEpisodicEvents, 12345)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete_ThenNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Put(ctx, storage.NSTasks, storage.Record{ProjectID: 1})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, storage.NSTasks, id))
	_, err = s.Get(ctx, storage.NSTasks, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUniqueContentHash_RejectsDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := storage.Record{ProjectID: 1, Fields: map[string]any{"content_hash": "abc123"}}
	_, err := s.Put(ctx, storage.NSEpisodicEvents, rec)
	require.NoError(t, err)

	_, err = s.Put(ctx, storage.NSEpisodicEvents, rec)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestScan_OrdersByAscendingID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, storage.NSTasks, storage.Record{ProjectID: 1})
		require.NoError(t, err)
	}

	it, err := s.Scan(ctx, storage.NSTasks, storage.NewFilter(1))
	require.NoError(t, err)
	defer it.Close()

	var lastID int64
	var count int
	for it.Next(ctx) {
		assert.Greater(t, it.Record().ID, lastID)
		lastID = it.Record().ID
		count++
	}
	assert.Equal(t, 3, count)
}

func TestLexicalSearch_RanksByBM25(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, storage.NSSemanticMemories, storage.Record{
		ProjectID: 1, Content: "authentication failure during login",
	})
	require.NoError(t, err)
	_, err = s.Put(ctx, storage.NSSemanticMemories, storage.Record{
		ProjectID: 1, Content: "unrelated note about gardening",
	})
	require.NoError(t, err)

	hits, err := s.LexicalSearch(ctx, storage.NSSemanticMemories, "authentication", 5, storage.NewFilter(1))
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "authentication failure during login", hits[0].Record.Content)
}

func TestVectorSearch_DimMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Put(ctx, storage.NSSemanticMemories, storage.Record{ProjectID: 1, Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)

	_, err = s.VectorSearch(ctx, storage.NSSemanticMemories, []float32{1, 0}, 5, storage.NewFilter(1))
	assert.ErrorIs(t, err, apperr.ErrEmbeddingDimMismatch)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wantErr := assert.AnError
	err := s.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Put(ctx, storage.NSTasks, storage.Record{ProjectID: 1}); err != nil {
			return err
		}
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	it, err := s.Scan(ctx, storage.NSTasks, storage.NewFilter(1))
	require.NoError(t, err)
	defer it.Close()
	assert.False(t, it.Next(ctx))
}

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		id, err = tx.Put(ctx, storage.NSTasks, storage.Record{ProjectID: 1})
		return err
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, storage.NSTasks, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ProjectID)
}
