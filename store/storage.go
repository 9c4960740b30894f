package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"webrag/types"
)

var ErrNotFound = errors.New("not found")

// DBStorer is the persistence port shared by the API and the worker. Every
// method is its own unit of work; nothing spans calls.
type DBStorer interface {
	CreateURLs(context.Context, []string) ([]types.URL, error)
	GetURL(context.Context, uuid.UUID) (*types.URL, error)
	UpdateStatus(context.Context, uuid.UUID, types.URLStatus) error
	UpsertContent(context.Context, uuid.UUID, string) (*types.Content, error)
	DeleteChunksByURLID(context.Context, uuid.UUID) error
	CreateChunks(ctx context.Context, urlID uuid.UUID, contentID uuid.NullUUID, texts []string) ([]types.Chunk, error)
	SaveEmbedding(ctx context.Context, chunkID uuid.UUID, vector []float32) (*types.Embedding, error)
	ListChunksWithoutEmbeddings(context.Context, uuid.UUID) ([]types.Chunk, error)
	Search(context.Context, []float32, int) ([]types.ChunkRetrieval, error)
	Ping(context.Context) error
}

type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// NewPostgresStore opens a pool and retries the first ping a few times so
// the processes can start alongside the database container.
func NewPostgresStore(ctx context.Context, connStr string, dimension int, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}

		logger.Warn("failed to connect to postgres", "attempt", attempt, "max_attempts", connectAttempts, "error", err)
		if attempt == connectAttempts {
			return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", connectAttempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}

	return &PostgresStore{
		pool:      pool,
		dimension: dimension,
		logger:    logger,
	}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// CreateURLs inserts unseen URLs as PENDING and returns every submitted URL
// with its current status. Duplicates in the input are collapsed.
func (p *PostgresStore) CreateURLs(ctx context.Context, urls []string) ([]types.URL, error) {
	seen := make(map[string]struct{}, len(urls))
	result := make([]types.URL, 0, len(urls))

	query := `
		INSERT INTO urls (id, url, status)
		VALUES ($1, $2, 'PENDING')
		ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
		RETURNING id, url, status::text, created_at, updated_at`

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, raw := range urls {
			if _, ok := seen[raw]; ok {
				continue
			}
			seen[raw] = struct{}{}

			u, err := scanURL(tx.QueryRow(ctx, query, uuid.New(), raw))
			if err != nil {
				return fmt.Errorf("upsert url %s: %w", raw, err)
			}
			result = append(result, *u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgresStore) GetURL(ctx context.Context, id uuid.UUID) (*types.URL, error) {
	u, err := scanURL(p.pool.QueryRow(ctx,
		`SELECT id, url, status::text, created_at, updated_at FROM urls WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status types.URLStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE urls SET status = $2::url_status, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UpsertContent(ctx context.Context, urlID uuid.UUID, text string) (*types.Content, error) {
	query := `
		INSERT INTO contents (id, url_id, content)
		VALUES ($1, $2, $3)
		ON CONFLICT (url_id) DO UPDATE SET
			content = EXCLUDED.content,
			updated_at = now()
		RETURNING id, url_id, content, created_at, updated_at`

	c := &types.Content{}
	err := p.pool.QueryRow(ctx, query, uuid.New(), urlID, text).
		Scan(&c.ID, &c.URLID, &c.Text, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteChunksByURLID drops every chunk of a URL; embeddings go with them.
func (p *PostgresStore) DeleteChunksByURLID(ctx context.Context, urlID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM chunks WHERE url_id = $1", urlID)
	return err
}

// CreateChunks persists one ingestion run's chunks atomically, in order.
func (p *PostgresStore) CreateChunks(ctx context.Context, urlID uuid.UUID, contentID uuid.NullUUID, texts []string) ([]types.Chunk, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO chunks (id, url_id, content_id, chunk_content, is_embedded)
		VALUES ($1, $2, $3, $4, false)
		RETURNING created_at, updated_at`

	chunks := make([]types.Chunk, 0, len(texts))
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, text := range texts {
			c := types.Chunk{
				ID:        uuid.New(),
				URLID:     urlID,
				ContentID: contentID,
				Text:      text,
			}
			if err := tx.QueryRow(ctx, query, c.ID, c.URLID, c.ContentID, c.Text).
				Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// SaveEmbedding stores the vector and flips the chunk's is_embedded flag in
// one transaction, so an embedding row never exists for an unflagged chunk.
func (p *PostgresStore) SaveEmbedding(ctx context.Context, chunkID uuid.UUID, vector []float32) (*types.Embedding, error) {
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("embedding dimension %d does not match column dimension %d", len(vector), p.dimension)
	}

	e := &types.Embedding{ID: uuid.New(), ChunkID: chunkID, Vector: vector}
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO embeddings (id, chunk_id, vector)
			VALUES ($1, $2, $3)
			ON CONFLICT (chunk_id) DO UPDATE SET
				vector = EXCLUDED.vector,
				updated_at = now()
			RETURNING id, created_at, updated_at`,
			e.ID, chunkID, pgvector.NewVector(vector)).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}

		tag, err := tx.Exec(ctx, `UPDATE chunks SET is_embedded = true, updated_at = now() WHERE id = $1`, chunkID)
		if err != nil {
			return fmt.Errorf("mark chunk embedded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) ListChunksWithoutEmbeddings(ctx context.Context, urlID uuid.UUID) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, url_id, content_id, chunk_content, is_embedded, created_at, updated_at
		FROM chunks
		WHERE url_id = $1 AND is_embedded = false
		ORDER BY created_at`, urlID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.URLID, &c.ContentID, &c.Text, &c.IsEmbedded, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Search returns the nearest embedded chunks of COMPLETED URLs by cosine
// distance, closest first.
func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, limit int) ([]types.ChunkRetrieval, error) {
	if len(queryVec) == 0 {
		return nil, errors.New("empty query vector")
	}

	query := `
		SELECT c.id, c.url_id, c.content_id, c.chunk_content, c.is_embedded, c.created_at, c.updated_at,
		       u.url,
		       e.vector <=> $1 AS distance
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id
		JOIN urls u ON u.id = c.url_id
		WHERE c.is_embedded = true
		  AND u.status = 'COMPLETED'
		ORDER BY e.vector <=> $1
		LIMIT $2`

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []types.ChunkRetrieval
	for rows.Next() {
		var (
			r        types.ChunkRetrieval
			distance *float64
		)
		if err := rows.Scan(
			&r.Chunk.ID,
			&r.Chunk.URLID,
			&r.Chunk.ContentID,
			&r.Chunk.Text,
			&r.Chunk.IsEmbedded,
			&r.Chunk.CreatedAt,
			&r.Chunk.UpdatedAt,
			&r.URL,
			&distance); err != nil {
			return nil, err
		}

		r.Distance = math.Inf(1)
		if distance != nil && !math.IsNaN(*distance) {
			r.Distance = *distance
		}

		p.logger.Debug("search hit", "url", r.URL, "chunk_id", r.Chunk.ID, "distance", r.Distance)
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanURL(row pgx.Row) (*types.URL, error) {
	var (
		u      types.URL
		status string
	)
	if err := row.Scan(&u.ID, &u.URL, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Status = types.URLStatus(status)
	return &u, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}
