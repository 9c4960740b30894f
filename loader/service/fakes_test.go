package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"webrag/metrics"
	"webrag/queue"
	"webrag/store"
	"webrag/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func newTestQueue(t *testing.T) *queue.RedisQueue {
	q, _ := newTestQueueServer(t)
	return q
}

func newTestQueueServer(t *testing.T) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := queue.NewClient(queue.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewRedisQueue(client, "ingestion_queue", discardLogger()), mr
}

// memStore is an in-memory DBStorer that records status history.
type memStore struct {
	mu         sync.Mutex
	urls       map[uuid.UUID]*types.URL
	byURL      map[string]uuid.UUID
	contents   map[uuid.UUID]*types.Content
	chunks     []types.Chunk
	embeddings map[uuid.UUID][]float32
	history    map[uuid.UUID][]types.URLStatus

	failSaveEmbedding error
}

var _ store.DBStorer = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		urls:       map[uuid.UUID]*types.URL{},
		byURL:      map[string]uuid.UUID{},
		contents:   map[uuid.UUID]*types.Content{},
		embeddings: map[uuid.UUID][]float32{},
		history:    map[uuid.UUID][]types.URLStatus{},
	}
}

func (s *memStore) seed(raw string, status types.URLStatus) types.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &types.URL{ID: uuid.New(), URL: raw, Status: status, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.urls[u.ID] = u
	s.byURL[raw] = u.ID
	return *u
}

func (s *memStore) CreateURLs(_ context.Context, urls []string) ([]types.URL, error) {
	out := []types.URL{}
	seen := map[string]bool{}
	for _, raw := range urls {
		if seen[raw] {
			continue
		}
		seen[raw] = true
		s.mu.Lock()
		id, ok := s.byURL[raw]
		s.mu.Unlock()
		if !ok {
			out = append(out, s.seed(raw, types.StatusPending))
			continue
		}
		s.mu.Lock()
		out = append(out, *s.urls[id])
		s.mu.Unlock()
	}
	return out, nil
}

func (s *memStore) GetURL(_ context.Context, id uuid.UUID) (*types.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.urls[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status types.URLStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.urls[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Status = status
	s.history[id] = append(s.history[id], status)
	return nil
}

func (s *memStore) statusHistory(id uuid.UUID) []types.URLStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.URLStatus(nil), s.history[id]...)
}

func (s *memStore) UpsertContent(_ context.Context, urlID uuid.UUID, text string) (*types.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[urlID]
	if !ok {
		c = &types.Content{ID: uuid.New(), URLID: urlID}
		s.contents[urlID] = c
	}
	c.Text = text
	cp := *c
	return &cp, nil
}

func (s *memStore) DeleteChunksByURLID(_ context.Context, urlID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.URLID == urlID {
			delete(s.embeddings, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
	return nil
}

func (s *memStore) CreateChunks(_ context.Context, urlID uuid.UUID, contentID uuid.NullUUID, texts []string) ([]types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Chunk, 0, len(texts))
	for _, text := range texts {
		c := types.Chunk{ID: uuid.New(), URLID: urlID, ContentID: contentID, Text: text}
		s.chunks = append(s.chunks, c)
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) SaveEmbedding(_ context.Context, chunkID uuid.UUID, vector []float32) (*types.Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveEmbedding != nil {
		return nil, s.failSaveEmbedding
	}
	for i := range s.chunks {
		if s.chunks[i].ID == chunkID {
			s.chunks[i].IsEmbedded = true
			s.embeddings[chunkID] = vector
			return &types.Embedding{ID: uuid.New(), ChunkID: chunkID, Vector: vector}, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) ListChunksWithoutEmbeddings(_ context.Context, urlID uuid.UUID) ([]types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Chunk
	for _, c := range s.chunks {
		if c.URLID == urlID && !c.IsEmbedded {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) chunksOf(urlID uuid.UUID) []types.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Chunk
	for _, c := range s.chunks {
		if c.URLID == urlID {
			out = append(out, c)
		}
	}
	return out
}

func (s *memStore) Search(context.Context, []float32, int) ([]types.ChunkRetrieval, error) {
	return nil, errors.New("not used by the loader")
}

func (s *memStore) Ping(context.Context) error { return nil }

type fakeFetcher struct {
	text string
	err  error
}

func (f fakeFetcher) Fetch(context.Context, string) (string, error) {
	return f.text, f.err
}

// fakeEmbedder returns one vector per chunk, minus drop from the tail.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	drop  int
	err   error
}

func (e *fakeEmbedder) EmbedDocument(_ context.Context, chunks []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	n := max(len(chunks)-e.drop, 0)
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
