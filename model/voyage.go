package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	voyageInputDocument = "document"
	voyageInputQuery    = "query"
)

// VoyageEmbedder calls the Voyage contextualized embeddings endpoint. All
// chunks of a document go in one request so each vector carries the
// context of its neighbours.
type VoyageEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
}

type voyageRequest struct {
	Inputs          [][]string `json:"inputs"`
	InputType       string     `json:"input_type"`
	Model           string     `json:"model"`
	OutputDimension int        `json:"output_dimension,omitempty"`
}

type voyageEmbedding struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type voyageResponse struct {
	Data []struct {
		Data  []voyageEmbedding `json:"data"`
		Index int               `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func NewVoyageEmbedder(baseURL, apiKey, model string, dimension int) *VoyageEmbedder {
	return &VoyageEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *VoyageEmbedder) EmbedDocument(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	inputs, err := trimChunks(chunks)
	if err != nil {
		return nil, err
	}
	return e.embed(ctx, inputs, voyageInputDocument)
}

func (e *VoyageEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	text := strings.TrimSpace(query)
	if text == "" {
		return nil, nil
	}
	vectors, err := e.embed(ctx, []string{text}, voyageInputQuery)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

func (e *VoyageEmbedder) embed(ctx context.Context, inputs []string, inputType string) ([][]float32, error) {
	body, err := json.Marshal(voyageRequest{
		Inputs:          [][]string{inputs},
		InputType:       inputType,
		Model:           e.model,
		OutputDimension: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/contextualizedembeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("voyage API error: status %d, body: %s", resp.StatusCode, string(b))
	}

	var out voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, nil
	}

	results := out.Data[0].Data
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	vectors := make([][]float32, 0, len(results))
	for _, r := range results {
		vectors = append(vectors, r.Embedding)
	}
	return vectors, nil
}
