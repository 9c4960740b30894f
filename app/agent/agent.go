package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"webrag/config"
	"webrag/metrics"
	"webrag/model"
	"webrag/types"
)

// NoInformationAnswer is returned when nothing usable was retrieved.
const NoInformationAnswer = "I could not find relevant information to answer that question."

// Searcher is the read side of the store used for retrieval.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]types.ChunkRetrieval, error)
}

// Agent answers questions from retrieved chunks. It never writes to the store.
type Agent struct {
	searcher    Searcher
	embedder    model.Embedder
	generator   model.Generator
	limits      config.Retrieval
	countTokens func(string) (int, error)
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Agent)

// WithTokenCounter replaces the tiktoken based prompt counter.
func WithTokenCounter(fn func(string) (int, error)) Option {
	return func(a *Agent) {
		a.countTokens = fn
	}
}

func New(searcher Searcher, embedder model.Embedder, generator model.Generator, limits config.Retrieval, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Agent {
	a := &Agent{
		searcher:    searcher,
		embedder:    embedder,
		generator:   generator,
		limits:      limits,
		countTokens: CountTokens,
		metrics:     m,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// plan is everything decided before answer synthesis. When prompt is empty
// the answer is already final.
type plan struct {
	action string
	prompt string
	answer string
}

// Answer runs the full retrieval pipeline and returns the trimmed model answer.
func (a *Agent) Answer(ctx context.Context, query string) (string, error) {
	p, err := a.prepare(ctx, query)
	if err != nil {
		return "", err
	}
	if p.prompt == "" {
		return p.answer, nil
	}

	answer, err := a.generator.Generate(ctx, p.prompt)
	if err != nil {
		a.logger.Error("answer synthesis failed", "error", err)
		a.metrics.Queries.WithLabelValues(p.action, "error").Inc()
		return "", fmt.Errorf("generate answer: %w", err)
	}
	a.metrics.Queries.WithLabelValues(p.action, "answered").Inc()
	return strings.TrimSpace(answer), nil
}

// AnswerStream is Answer with the synthesis step streamed. The channel is
// closed after the last fragment or after a single terminal error event.
func (a *Agent) AnswerStream(ctx context.Context, query string) (<-chan model.StreamEvent, error) {
	p, err := a.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	if p.prompt == "" {
		events := make(chan model.StreamEvent, 1)
		events <- model.StreamEvent{Text: p.answer}
		close(events)
		return events, nil
	}

	events, err := a.generator.Stream(ctx, p.prompt)
	if err != nil {
		a.logger.Error("answer synthesis failed", "error", err)
		a.metrics.Queries.WithLabelValues(p.action, "error").Inc()
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	a.metrics.Queries.WithLabelValues(p.action, "streamed").Inc()
	return events, nil
}

func (a *Agent) prepare(ctx context.Context, query string) (*plan, error) {
	cleaned := strings.TrimSpace(query)
	if cleaned == "" {
		return nil, types.ErrEmptyQuery
	}

	d := a.decideStrategy(ctx, cleaned)
	a.logger.Debug("strategy decided", "action", d.Action, "query", d.Query)

	vector, err := a.embedder.EmbedQuery(ctx, d.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vector) == 0 {
		a.logger.Warn("embedder returned no vector for query")
		a.metrics.Queries.WithLabelValues(d.Action, "no_vector").Inc()
		return &plan{action: d.Action, answer: NoInformationAnswer}, nil
	}

	candidates, err := a.searcher.Search(ctx, vector, a.limits.Candidates)
	if err != nil {
		a.logger.Error("vector search failed", "error", err)
		a.metrics.Queries.WithLabelValues(d.Action, "error").Inc()
		return nil, fmt.Errorf("vector search: %w", err)
	}
	a.logger.Debug("retrieved candidate chunks", "count", len(candidates))

	contexts := selectContexts(candidates, a.limits)
	a.metrics.RetrievedContexts.Observe(float64(len(contexts)))

	if len(contexts) == 0 {
		a.logger.Info("no usable contexts retrieved", "candidate_count", len(candidates))
		if d.Answer != "" {
			a.metrics.Queries.WithLabelValues(d.Action, "direct").Inc()
			return &plan{action: d.Action, answer: d.Answer}, nil
		}
		a.metrics.Queries.WithLabelValues(d.Action, "no_information").Inc()
		return &plan{action: d.Action, answer: NoInformationAnswer}, nil
	}

	prompt := buildPrompt(cleaned, contexts)
	if n, err := a.countTokens(prompt); err == nil {
		a.logger.Debug("synthesis prompt built", "tokens", n, "contexts", len(contexts))
		a.metrics.PromptTokens.Observe(float64(n))
	} else {
		a.logger.Debug("prompt token count unavailable", "error", err)
	}

	return &plan{action: d.Action, prompt: prompt}, nil
}
