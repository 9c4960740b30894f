package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedder embeds text through the legacy Ollama /api/embeddings endpoint.
type OllamaEmbedder struct {
	apiURL     string
	model      string
	httpClient *http.Client
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(apiURL, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		apiURL:     apiURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// EmbedDocument embeds chunks one request at a time; Ollama has no batch
// endpoint for the legacy embeddings API.
func (e *OllamaEmbedder) EmbedDocument(ctx context.Context, chunks []string) ([][]float32, error) {
	inputs, err := trimChunks(chunks)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, 0, len(inputs))
	for i, chunk := range inputs {
		v, err := e.embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	text := strings.TrimSpace(query)
	if text == "" {
		return nil, nil
	}
	return e.embed(ctx, text)
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(OllamaEmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(b))
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	norm := normalize64(ollamaResp.Embedding)
	embedding := make([]float32, len(norm))
	for i, v := range norm {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// normalize64 scales vec to unit length in place.
func normalize64(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = x / norm
	}
	return vec
}

// OllamaGenerator drives the /api/generate endpoint.
type OllamaGenerator struct {
	url          string
	model        string
	system       string
	httpClient   *http.Client
	streamClient *http.Client
}

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaGenerator(url, model string) *OllamaGenerator {
	return &OllamaGenerator{
		url:   url,
		model: model,
		system: `You are a precise assistant. Answer clearly and to the point, without adding any additional information.
Don't add introductions like 'Of course!' or 'Here's the answer:'`,
		httpClient:   &http.Client{Timeout: generationTimeout},
		streamClient: newStreamClient(generationTimeout),
	}
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.post(ctx, g.httpClient, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Some Ollama builds ignore stream=false; collect NDJSON fragments either way.
	var b strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama API error: %s", chunk.Error)
		}
		b.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}

	if strings.TrimSpace(b.String()) == "" {
		return "", ErrNoContent
	}
	return b.String(), nil
}

func (g *OllamaGenerator) Stream(ctx context.Context, prompt string) (<-chan StreamEvent, error) {
	resp, err := g.post(ctx, g.streamClient, prompt, true)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(resp.Body)
	next := func() (string, bool, error) {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", false, err
		}
		if chunk.Error != "" {
			return "", false, fmt.Errorf("ollama API error: %s", chunk.Error)
		}
		return chunk.Response, chunk.Done, nil
	}
	return streamFrom(ctx, resp.Body, next), nil
}

func (g *OllamaGenerator) post(ctx context.Context, client *http.Client, prompt string, stream bool) (*http.Response, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  g.model,
		System: g.system,
		Prompt: prompt,
		Stream: stream,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}
