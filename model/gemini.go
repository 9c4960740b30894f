package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GeminiGenerator talks to the Gemini generateContent REST API.
type GeminiGenerator struct {
	baseURL    string
	apiKey     string
	model        string
	httpClient   *http.Client
	streamClient *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func NewGeminiGenerator(baseURL, apiKey, model string) *GeminiGenerator {
	return &GeminiGenerator{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		httpClient:   &http.Client{Timeout: generationTimeout},
		streamClient: newStreamClient(generationTimeout),
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.post(ctx, g.httpClient, prompt, "generateContent")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}
	text := result.text()
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ErrNoContent)
	}
	return text, nil
}

// Stream uses the server-sent events flavour of streamGenerateContent.
func (g *GeminiGenerator) Stream(ctx context.Context, prompt string) (<-chan StreamEvent, error) {
	resp, err := g.post(ctx, g.streamClient, prompt, "streamGenerateContent?alt=sse")
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	next := func() (string, bool, error) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			var chunk geminiResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &chunk); err != nil {
				return "", false, fmt.Errorf("decode stream chunk: %w", err)
			}
			if chunk.Error != nil {
				return "", false, fmt.Errorf("gemini API error: %s", chunk.Error.Message)
			}
			return chunk.text(), false, nil
		}
		if err := scanner.Err(); err != nil {
			return "", false, err
		}
		return "", false, io.EOF
	}
	return streamFrom(ctx, resp.Body, next), nil
}

func (g *GeminiGenerator) post(ctx context.Context, client *http.Client, prompt, method string) (*http.Response, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	requestBody, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", g.baseURL, g.model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini API error: status %d, body: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}
