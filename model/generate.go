package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"webrag/config"
)

const generationTimeout = 120 * time.Second

// Generator produces text from a prompt, either in one piece or as a stream.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (<-chan StreamEvent, error)
}

// StreamEvent is one message on a generation stream. A non-nil Err is
// always the last event; the channel is closed after it or at normal end.
type StreamEvent struct {
	Text string
	Err  error
}

func NewGenerator(cfg *config.Config) (Generator, error) {
	switch cfg.GenerationProvider {
	case config.ProviderGemini:
		return NewGeminiGenerator(cfg.GeminiURL, cfg.GeminiAPIKey, cfg.GeminiModel), nil
	case config.ProviderOllama:
		return NewOllamaGenerator(cfg.LLMURL, cfg.LLMModel), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
	}
}

// newStreamClient bounds only the wait for response headers. Reading a
// stream is limited by the caller's context, not by a client deadline.
func newStreamClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// streamFrom runs next in a producer goroutine until it reports done or
// fails. The body is closed when the producer exits, including when the
// consumer cancels ctx and stops reading.
func streamFrom(ctx context.Context, body io.ReadCloser, next func() (text string, done bool, err error)) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer body.Close()
		for {
			text, done, err := next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if ctx.Err() != nil {
					return
				}
				send(ctx, ch, StreamEvent{Err: err})
				return
			}
			if text != "" && !send(ctx, ch, StreamEvent{Text: text}) {
				return
			}
			if done {
				return
			}
		}
	}()
	return ch
}

func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream into a single string.
func Collect(events <-chan StreamEvent) (string, error) {
	var out []byte
	for ev := range events {
		if ev.Err != nil {
			return string(out), ev.Err
		}
		out = append(out, ev.Text...)
	}
	return string(out), nil
}
