package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webrag/loader/internal"
	"webrag/metrics"
	"webrag/model"
	"webrag/store"
	"webrag/types"
)

// Kind names the collaborator a pipeline step failed in.
type Kind string

const (
	KindFetch   Kind = "fetch"
	KindPersist Kind = "persist"
	KindEmbed   Kind = "embed"
)

// StepError is the tagged result of a failed step: the status the URL was in
// and what kind of failure stopped it.
type StepError struct {
	Stage types.URLStatus
	Kind  Kind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed in %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Fetcher turns a URL into plain text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Pipeline drives one URL from PENDING to COMPLETED. It never writes FAILED;
// that decision belongs to whoever called Process.
type Pipeline struct {
	store     store.DBStorer
	embedder  model.Embedder
	fetcher   Fetcher
	chunkSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewPipeline(storer store.DBStorer, embedder model.Embedder, fetcher Fetcher, chunkSize int, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = internal.DefaultChunkSize
	}
	return &Pipeline{
		store:     storer,
		embedder:  embedder,
		fetcher:   fetcher,
		chunkSize: chunkSize,
		metrics:   m,
		logger:    logger,
	}
}

// Process runs fetch, chunk and embed for a single job. The first failing
// step aborts the run and the URL keeps the last status it reached.
func (p *Pipeline) Process(ctx context.Context, job types.IngestionMessage) error {
	log := p.logger.With("url_id", job.URLID, "url", job.URL)
	log.Info("processing url")

	content, err := p.fetchStep(ctx, job)
	if err != nil {
		return err
	}

	chunks, err := p.chunkStep(ctx, job.URLID, content)
	if err != nil {
		return err
	}

	if len(chunks) > 0 {
		if err := p.embedStep(ctx, log, job.URLID, chunks); err != nil {
			return err
		}
	}

	if err := p.transition(ctx, job.URLID, types.StatusCompleted); err != nil {
		return err
	}
	log.Info("url ingested", "chunks", len(chunks))
	return nil
}

func (p *Pipeline) fetchStep(ctx context.Context, job types.IngestionMessage) (*types.Content, error) {
	defer p.metrics.ObserveStage(string(KindFetch), time.Now())

	if err := p.transition(ctx, job.URLID, types.StatusFetching); err != nil {
		return nil, err
	}

	text, err := p.fetcher.Fetch(ctx, job.URL)
	if err != nil {
		return nil, &StepError{Stage: types.StatusFetching, Kind: KindFetch, Err: err}
	}

	content, err := p.store.UpsertContent(ctx, job.URLID, text)
	if err != nil {
		return nil, &StepError{Stage: types.StatusFetching, Kind: KindPersist, Err: fmt.Errorf("upsert content: %w", err)}
	}
	return content, nil
}

func (p *Pipeline) chunkStep(ctx context.Context, urlID uuid.UUID, content *types.Content) ([]types.Chunk, error) {
	defer p.metrics.ObserveStage("chunk", time.Now())

	if err := p.transition(ctx, urlID, types.StatusChunking); err != nil {
		return nil, err
	}

	pieces := internal.Chunk(content.Text, p.chunkSize)

	// Chunks of a previous run go away together with their embeddings.
	if err := p.store.DeleteChunksByURLID(ctx, urlID); err != nil {
		return nil, &StepError{Stage: types.StatusChunking, Kind: KindPersist, Err: fmt.Errorf("delete old chunks: %w", err)}
	}

	chunks, err := p.store.CreateChunks(ctx, urlID, uuid.NullUUID{UUID: content.ID, Valid: true}, pieces)
	if err != nil {
		return nil, &StepError{Stage: types.StatusChunking, Kind: KindPersist, Err: fmt.Errorf("create chunks: %w", err)}
	}
	p.metrics.ChunksCreated.Add(float64(len(chunks)))
	return chunks, nil
}

func (p *Pipeline) embedStep(ctx context.Context, log *slog.Logger, urlID uuid.UUID, chunks []types.Chunk) error {
	defer p.metrics.ObserveStage(string(KindEmbed), time.Now())

	if err := p.transition(ctx, urlID, types.StatusEmbedding); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedDocument(ctx, texts)
	if err != nil {
		return &StepError{Stage: types.StatusEmbedding, Kind: KindEmbed, Err: err}
	}

	if len(vectors) != len(chunks) {
		log.Warn("embedding count mismatch", "vectors", len(vectors), "chunks", len(chunks))
		p.metrics.EmbeddingMismatches.Inc()
	}

	n := min(len(vectors), len(chunks))
	for i := 0; i < n; i++ {
		if _, err := p.store.SaveEmbedding(ctx, chunks[i].ID, vectors[i]); err != nil {
			return &StepError{Stage: types.StatusEmbedding, Kind: KindPersist, Err: fmt.Errorf("save embedding for chunk %s: %w", chunks[i].ID, err)}
		}
	}

	p.auditUnembedded(ctx, log, urlID)
	return nil
}

// auditUnembedded reports chunks the run left without a vector. It never
// fails the job.
func (p *Pipeline) auditUnembedded(ctx context.Context, log *slog.Logger, urlID uuid.UUID) {
	missing, err := p.store.ListChunksWithoutEmbeddings(ctx, urlID)
	if err != nil {
		log.Warn("unembedded chunk audit failed", "error", err)
		return
	}
	if len(missing) > 0 {
		log.Warn("chunks left without embeddings", "count", len(missing))
		p.metrics.UnembeddedChunks.Add(float64(len(missing)))
	}
}

func (p *Pipeline) transition(ctx context.Context, urlID uuid.UUID, status types.URLStatus) error {
	if err := p.store.UpdateStatus(ctx, urlID, status); err != nil {
		return &StepError{Stage: status, Kind: KindPersist, Err: fmt.Errorf("set status %s: %w", status, err)}
	}
	p.logger.Debug("status changed", "url_id", urlID, "status", status)
	return nil
}
