package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/types"
)

// Three sentences of 11 characters each; with a chunk size of 12 each one
// becomes its own chunk.
const threeSentences = "First line. Secnd line. Third line."

func newPipeline(s *memStore, e *fakeEmbedder, f fakeFetcher) *Pipeline {
	return NewPipeline(s, e, f, 12, newTestMetrics(), discardLogger())
}

func jobFor(u types.URL) types.IngestionMessage {
	return types.NewIngestionMessage(u)
}

func TestPipeline_Completes(t *testing.T) {
	s := newMemStore()
	u := s.seed("https://example.com", types.StatusPending)
	e := &fakeEmbedder{}

	err := newPipeline(s, e, fakeFetcher{text: threeSentences}).Process(context.Background(), jobFor(u))
	require.NoError(t, err)

	assert.Equal(t, []types.URLStatus{
		types.StatusFetching,
		types.StatusChunking,
		types.StatusEmbedding,
		types.StatusCompleted,
	}, s.statusHistory(u.ID))

	chunks := s.chunksOf(u.ID)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.True(t, c.IsEmbedded)
		assert.True(t, c.ContentID.Valid)
	}
	assert.Equal(t, 1, e.calls)
}

func TestPipeline_NoChunksSkipsEmbedding(t *testing.T) {
	s := newMemStore()
	u := s.seed("https://empty.example.com", types.StatusPending)
	e := &fakeEmbedder{}

	err := newPipeline(s, e, fakeFetcher{text: ""}).Process(context.Background(), jobFor(u))
	require.NoError(t, err)

	assert.Equal(t, []types.URLStatus{
		types.StatusFetching,
		types.StatusChunking,
		types.StatusCompleted,
	}, s.statusHistory(u.ID))
	assert.Zero(t, e.calls)
}

func TestPipeline_EmbeddingMismatchKeepsPrefix(t *testing.T) {
	s := newMemStore()
	u := s.seed("https://example.com", types.StatusPending)
	p := newPipeline(s, &fakeEmbedder{drop: 1}, fakeFetcher{text: threeSentences})

	require.NoError(t, p.Process(context.Background(), jobFor(u)))

	chunks := s.chunksOf(u.ID)
	require.Len(t, chunks, 3)
	assert.True(t, chunks[0].IsEmbedded)
	assert.True(t, chunks[1].IsEmbedded)
	assert.False(t, chunks[2].IsEmbedded)

	url, err := s.GetURL(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, url.Status)

	assert.InDelta(t, 1, testutil.ToFloat64(p.metrics.EmbeddingMismatches), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.metrics.UnembeddedChunks), 0)
}

func TestPipeline_FailuresAreTaggedAndLeaveStatus(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		fetcher   fakeFetcher
		embedder  *fakeEmbedder
		saveErr   error
		wantStage types.URLStatus
		wantKind  Kind
	}{
		{"fetch", fakeFetcher{err: boom}, &fakeEmbedder{}, nil, types.StatusFetching, KindFetch},
		{"embed", fakeFetcher{text: threeSentences}, &fakeEmbedder{err: boom}, nil, types.StatusEmbedding, KindEmbed},
		{"persist embedding", fakeFetcher{text: threeSentences}, &fakeEmbedder{}, boom, types.StatusEmbedding, KindPersist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			s.failSaveEmbedding = tt.saveErr
			u := s.seed("https://example.com", types.StatusPending)

			err := newPipeline(s, tt.embedder, tt.fetcher).Process(context.Background(), jobFor(u))
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.wantStage, stepErr.Stage)
			assert.Equal(t, tt.wantKind, stepErr.Kind)

			// The pipeline itself never writes FAILED.
			history := s.statusHistory(u.ID)
			assert.Equal(t, tt.wantStage, history[len(history)-1])
			assert.NotContains(t, history, types.StatusFailed)
		})
	}
}

func TestPipeline_UnknownURL(t *testing.T) {
	s := newMemStore()
	err := newPipeline(s, &fakeEmbedder{}, fakeFetcher{text: "x"}).
		Process(context.Background(), types.IngestionMessage{URL: "https://nowhere"})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, KindPersist, stepErr.Kind)
}

func TestPipeline_ReingestionReplacesChunks(t *testing.T) {
	s := newMemStore()
	u := s.seed("https://example.com", types.StatusFailed)

	require.NoError(t, newPipeline(s, &fakeEmbedder{}, fakeFetcher{text: threeSentences}).
		Process(context.Background(), jobFor(u)))
	require.NoError(t, newPipeline(s, &fakeEmbedder{}, fakeFetcher{text: "Only one."}).
		Process(context.Background(), jobFor(u)))

	chunks := s.chunksOf(u.ID)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Only one.", chunks[0].Text)
	assert.True(t, strings.HasPrefix(s.contents[u.ID].Text, "Only"))
}
