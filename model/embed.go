package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webrag/config"
)

var (
	ErrEmptyPrompt = errors.New("prompt must be a non-empty string")
	ErrNoContent   = errors.New("provider returned no content")
	ErrBlankChunk  = errors.New("document chunk is blank")
)

// Embedder turns text into fixed-dimension vectors. EmbedDocument embeds the
// ordered chunks of one document and returns vectors in the same positions;
// EmbedQuery embeds a single search query.
type Embedder interface {
	EmbedDocument(ctx context.Context, chunks []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// NewEmbedder selects the embedding provider configured for the process.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderVoyage:
		return NewVoyageEmbedder(cfg.VoyageURL, cfg.VoyageAPIKey, cfg.VoyageModel, cfg.EmbeddingDimension), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.OllamaEmbeddingURL, cfg.OllamaEmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// trimChunks returns trimmed copies of chunks. A blank chunk is rejected so
// that vector i always belongs to chunk i.
func trimChunks(chunks []string) ([]string, error) {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = strings.TrimSpace(c)
		if out[i] == "" {
			return nil, fmt.Errorf("chunk %d: %w", i, ErrBlankChunk)
		}
	}
	return out, nil
}
