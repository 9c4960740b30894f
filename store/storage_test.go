package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/types"
)

const testDimension = 3

// newTestStore connects to PG_TEST_DSN and truncates the tables. The database
// needs the pgvector extension available.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewPostgresStore(ctx, dsn, testDimension, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, _ = s.pool.Exec(ctx, "DROP TABLE IF EXISTS embeddings, chunks, contents, urls CASCADE")
	require.NoError(t, s.Init(ctx))
	return s
}

func TestCreateURLs_ReturnsExistingStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateURLs(ctx, []string{"https://a.com/x", "https://a.com/x", "https://b.com"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, u := range first {
		assert.Equal(t, types.StatusPending, u.Status)
	}

	require.NoError(t, s.UpdateStatus(ctx, first[0].ID, types.StatusCompleted))

	again, err := s.CreateURLs(ctx, []string{"https://a.com/x"})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, types.StatusCompleted, again[0].Status)
}

func TestUpdateStatus_UnknownURL(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStatus(context.Background(), uuid.New(), types.StatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetURL(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIngestAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	urls, err := s.CreateURLs(ctx, []string{"https://docs.example.com/page"})
	require.NoError(t, err)
	u := urls[0]

	content, err := s.UpsertContent(ctx, u.ID, "alpha beta")
	require.NoError(t, err)

	chunks, err := s.CreateChunks(ctx, u.ID, uuid.NullUUID{UUID: content.ID, Valid: true}, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	_, err = s.SaveEmbedding(ctx, chunks[0].ID, []float32{1, 0, 0})
	require.NoError(t, err)

	missing, err := s.ListChunksWithoutEmbeddings(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, chunks[1].ID, missing[0].ID)

	// Not COMPLETED yet, so nothing is searchable.
	hits, err := s.Search(ctx, []float32{1, 0, 0}, 12)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.UpdateStatus(ctx, u.ID, types.StatusCompleted))
	hits, err = s.Search(ctx, []float32{1, 0, 0}, 12)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alpha", hits[0].Chunk.Text)
	assert.Equal(t, "https://docs.example.com/page", hits[0].URL)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)

	// Re-ingestion clears previous chunks and their embeddings.
	require.NoError(t, s.DeleteChunksByURLID(ctx, u.ID))
	hits, err = s.Search(ctx, []float32{1, 0, 0}, 12)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSaveEmbedding_RejectsWrongDimension(t *testing.T) {
	s := &PostgresStore{dimension: testDimension}
	_, err := s.SaveEmbedding(context.Background(), uuid.New(), []float32{1, 2})
	assert.Error(t, err)
}
