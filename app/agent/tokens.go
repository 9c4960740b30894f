package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	encMu   sync.Mutex
	enc     *tiktoken.Tiktoken
	encErr  error
)

// CountTokens approximates the prompt size with the gpt-3.5-turbo encoding.
// The encoding is loaded on first use.
func CountTokens(text string) (int, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if encErr != nil {
		return 0, encErr
	}

	encMu.Lock()
	defer encMu.Unlock()
	return len(enc.Encode(text, nil, nil)), nil
}
