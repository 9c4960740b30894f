package store

import (
	"context"
	"fmt"
)

const schemaTemplate = `
	CREATE EXTENSION IF NOT EXISTS vector;

	DO $$ BEGIN
		CREATE TYPE url_status AS ENUM ('PENDING', 'FETCHING', 'CHUNKING', 'EMBEDDING', 'COMPLETED', 'FAILED');
	EXCEPTION
		WHEN duplicate_object THEN NULL;
	END $$;

	CREATE TABLE IF NOT EXISTS urls (
		id UUID PRIMARY KEY,
		url VARCHAR(2048) NOT NULL UNIQUE,
		status url_status NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS contents (
		id UUID PRIMARY KEY,
		url_id UUID NOT NULL UNIQUE REFERENCES urls(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		url_id UUID NOT NULL REFERENCES urls(id) ON DELETE CASCADE,
		content_id UUID REFERENCES contents(id) ON DELETE CASCADE,
		chunk_content TEXT NOT NULL,
		is_embedded BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_url_id ON chunks(url_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		id UUID PRIMARY KEY,
		chunk_id UUID NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
		vector vector(%d) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		CONSTRAINT uq_embeddings_chunk UNIQUE (chunk_id)
	);

	-- approximate nearest neighbour index for cosine search
	CREATE INDEX IF NOT EXISTS idx_embeddings_vector ON embeddings USING hnsw (vector vector_cosine_ops);
`

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(schemaTemplate, p.dimension))
	return err
}

// Init creates the extension, enum and tables if they are missing.
func (p *PostgresStore) Init(ctx context.Context) error {
	if err := p.createRagTables(ctx); err != nil {
		return fmt.Errorf("error to create tables: %w", err)
	}
	return nil
}
