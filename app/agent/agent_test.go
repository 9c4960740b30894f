package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/config"
	"webrag/metrics"
	"webrag/model"
	"webrag/types"
)

var defaultLimits = config.Retrieval{
	Candidates:    12,
	MaxContexts:   5,
	MaxPerDomain:  2,
	MinSimilarity: 0.2,
}

func candidate(rawURL, text string, similarity float64) types.ChunkRetrieval {
	return types.ChunkRetrieval{
		Chunk:    types.Chunk{ID: uuid.New(), Text: text, IsEmbedded: true},
		URL:      rawURL,
		Distance: 1 - similarity,
	}
}

func twelveCandidates() []types.ChunkRetrieval {
	sims := []float64{0.9, 0.85, 0.8, 0.75, 0.7, 0.6, 0.5, 0.4, 0.3, 0.25, 0.15, 0.1}
	hosts := []string{"https://a.com/p", "https://b.org/p", "https://c.net/p"}
	out := make([]types.ChunkRetrieval, len(sims))
	for i, s := range sims {
		out[i] = candidate(hosts[i%len(hosts)], "chunk text", s)
	}
	return out
}

func TestSelectContexts_DiversityAndLimits(t *testing.T) {
	got := selectContexts(twelveCandidates(), defaultLimits)
	require.Len(t, got, 5)

	perHost := map[string]int{}
	for i, c := range got {
		perHost[hostOf(c.Source)]++
		assert.GreaterOrEqual(t, c.Similarity, 0.2)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Similarity, c.Similarity)
		}
	}
	for host, n := range perHost {
		assert.LessOrEqual(t, n, 2, host)
	}

	want := []float64{0.9, 0.85, 0.8, 0.75, 0.7}
	for i, w := range want {
		assert.InDelta(t, w, got[i].Similarity, 1e-9)
	}
}

func TestSelectContexts_PerDomainCapSkipsSameHost(t *testing.T) {
	candidates := []types.ChunkRetrieval{
		candidate("https://a.com/1", "a1", 0.9),
		candidate("https://a.com/2", "a2", 0.88),
		candidate("https://a.com/3", "a3", 0.86),
		candidate("https://b.com/1", "b1", 0.5),
	}
	got := selectContexts(candidates, defaultLimits)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a1", "a2", "b1"}, []string{got[0].Text, got[1].Text, got[2].Text})
}

func TestSelectContexts_FallbackWhenNothingPassesThreshold(t *testing.T) {
	candidates := []types.ChunkRetrieval{
		candidate("https://a.com/1", "low", 0.05),
		candidate("https://a.com/2", "   ", 0.19),
		candidate("https://b.com/1", "higher", 0.15),
		{Chunk: types.Chunk{Text: "far"}, URL: "https://c.com", Distance: 1.7},
	}
	got := selectContexts(candidates, defaultLimits)
	require.Len(t, got, 3)
	assert.Equal(t, "higher", got[0].Text)
	assert.Equal(t, "low", got[1].Text)
	assert.Equal(t, "far", got[2].Text)
	assert.Zero(t, got[2].Similarity)
}

func TestSelectContexts_FallbackTruncatesToMax(t *testing.T) {
	var candidates []types.ChunkRetrieval
	for i := 0; i < 8; i++ {
		candidates = append(candidates, candidate("https://a.com", "t", 0.01*float64(i)))
	}
	got := selectContexts(candidates, defaultLimits)
	require.Len(t, got, 5)
	assert.InDelta(t, 0.07, got[0].Similarity, 1e-9)
}

func TestSelectContexts_Empty(t *testing.T) {
	assert.Empty(t, selectContexts(nil, defaultLimits))
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Decision
		wantErr bool
	}{
		{"plain json", `{"action":"answer","answer":"4","query":"2+2"}`, Decision{"answer", "4", "2+2"}, false},
		{"fenced json", "```json\n{\"action\":\"Retrieve\",\"query\":\"rag pipelines\"}\n```", Decision{"retrieve", "", "rag pipelines"}, false},
		{"missing fields", `{}`, Decision{"retrieve", "", "orig"}, false},
		{"blank query", `{"action":"retrieve","query":"  "}`, Decision{"retrieve", "", "orig"}, false},
		{"wrong types", `{"action":5,"answer":[1],"query":{}}`, Decision{"retrieve", "", "orig"}, false},
		{"not json", "I think you should retrieve", Decision{"retrieve", "", "orig"}, true},
		{"broken json", "{action: retrieve}", Decision{"retrieve", "", "orig"}, true},
		{"json null", "null", Decision{"retrieve", "", "orig"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.raw, "orig")
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// scriptedGenerator answers the strategy prompt with strategy and every
// other prompt with answer.
type scriptedGenerator struct {
	mu          sync.Mutex
	strategy    string
	strategyErr error
	answer      string
	answerErr   error
	prompts     []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if strings.HasPrefix(prompt, strategyPrompt) {
		return g.strategy, g.strategyErr
	}
	return g.answer, g.answerErr
}

func (g *scriptedGenerator) Stream(ctx context.Context, prompt string) (<-chan model.StreamEvent, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.answerErr != nil {
		return nil, g.answerErr
	}
	events := make(chan model.StreamEvent)
	go func() {
		defer close(events)
		for _, word := range strings.SplitAfter(g.answer, " ") {
			select {
			case events <- model.StreamEvent{Text: word}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeEmbedder struct {
	vector []float32
	err    error
	seen   string
}

func (e *fakeEmbedder) EmbedDocument(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, q string) ([]float32, error) {
	e.seen = q
	return e.vector, e.err
}

type fakeSearcher struct {
	results []types.ChunkRetrieval
	err     error
	limit   int
}

func (s *fakeSearcher) Search(_ context.Context, _ []float32, limit int) ([]types.ChunkRetrieval, error) {
	s.limit = limit
	return s.results, s.err
}

func newAgent(s Searcher, e model.Embedder, g model.Generator) *Agent {
	return New(s, e, g, defaultLimits,
		metrics.NewMetrics(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithTokenCounter(func(s string) (int, error) { return len(strings.Fields(s)), nil }),
	)
}

func TestAgent_Answer(t *testing.T) {
	gen := &scriptedGenerator{
		strategy: `{"action":"retrieve","answer":"","query":"reframed question"}`,
		answer:   "  Grounded answer [Context 1].  ",
	}
	emb := &fakeEmbedder{vector: []float32{1, 0}}
	search := &fakeSearcher{results: twelveCandidates()}

	answer, err := newAgent(search, emb, gen).Answer(context.Background(), "  original question ")
	require.NoError(t, err)

	assert.Equal(t, "Grounded answer [Context 1].", answer)
	assert.Equal(t, "reframed question", emb.seen)
	assert.Equal(t, 12, search.limit)

	require.Len(t, gen.prompts, 2)
	prompt := gen.prompts[1]
	assert.Contains(t, prompt, "Question: original question")
	assert.Contains(t, prompt, "Context 1 | similarity=0.900 | source=https://a.com/p")
	assert.Contains(t, prompt, "Context 5 | similarity=0.700 | source=https://b.org/p")
	assert.NotContains(t, prompt, "Context 6")
}

func TestAgent_AnswerRejectsEmptyQuery(t *testing.T) {
	gen := &scriptedGenerator{}
	_, err := newAgent(&fakeSearcher{}, &fakeEmbedder{}, gen).Answer(context.Background(), " \t ")
	assert.ErrorIs(t, err, types.ErrEmptyQuery)
	assert.Zero(t, gen.calls())
}

func TestAgent_StrategyFailureDefaultsToOriginalQuery(t *testing.T) {
	gen := &scriptedGenerator{strategyErr: errors.New("provider down"), answer: "ok"}
	emb := &fakeEmbedder{vector: []float32{1}}

	answer, err := newAgent(&fakeSearcher{results: twelveCandidates()}, emb, gen).Answer(context.Background(), "what is pgvector")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, "what is pgvector", emb.seen)
}

func TestAgent_EmptyVectorShortCircuits(t *testing.T) {
	gen := &scriptedGenerator{strategy: `{"action":"retrieve"}`}
	search := &fakeSearcher{}

	answer, err := newAgent(search, &fakeEmbedder{}, gen).Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, answer)
	assert.Equal(t, 1, gen.calls())
	assert.Zero(t, search.limit)
}

func TestAgent_NoCandidates(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{1}}

	direct := &scriptedGenerator{strategy: `{"action":"answer","answer":"Paris","query":"capital of France"}`}
	answer, err := newAgent(&fakeSearcher{}, emb, direct).Answer(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", answer)
	assert.Equal(t, 1, direct.calls())

	none := &scriptedGenerator{strategy: `{"action":"retrieve"}`}
	answer, err = newAgent(&fakeSearcher{}, emb, none).Answer(context.Background(), "obscure")
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, answer)
}

func TestAgent_ErrorsPropagate(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{1}}

	searchErr := errors.New("pg down")
	_, err := newAgent(&fakeSearcher{err: searchErr}, emb, &scriptedGenerator{}).Answer(context.Background(), "q")
	assert.ErrorIs(t, err, searchErr)

	genErr := errors.New("quota")
	gen := &scriptedGenerator{strategy: "{}", answerErr: genErr}
	_, err = newAgent(&fakeSearcher{results: twelveCandidates()}, emb, gen).Answer(context.Background(), "q")
	assert.ErrorIs(t, err, genErr)
}

func TestAgent_AnswerStream(t *testing.T) {
	gen := &scriptedGenerator{strategy: "{}", answer: "streamed answer text"}
	emb := &fakeEmbedder{vector: []float32{1}}

	events, err := newAgent(&fakeSearcher{results: twelveCandidates()}, emb, gen).AnswerStream(context.Background(), "q")
	require.NoError(t, err)
	out, err := model.Collect(events)
	require.NoError(t, err)
	assert.Equal(t, "streamed answer text", out)

	events, err = newAgent(&fakeSearcher{}, emb, &scriptedGenerator{strategy: "{}"}).AnswerStream(context.Background(), "q")
	require.NoError(t, err)
	out, err = model.Collect(events)
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, out)
}
