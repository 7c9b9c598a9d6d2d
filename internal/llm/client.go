// Package llm talks to the hosted chat model.
//
// Two wire protocols are supported: OpenAI-compatible chat completions
// (OpenAI, DashScope compatible mode, OpenRouter, vLLM) and Google Gemini
// through the genai SDK. Both stream incremental text deltas over a pair of
// channels; both channels are always closed when the stream ends.
package llm

import (
	"context"
	"time"
)

// Message roles understood by every client.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is a complete (non-streamed) answer.
type Response struct {
	Text  string
	Usage Usage
}

// Chunk is one streamed piece. The final chunk of a stream may carry only
// Usage.
type Chunk struct {
	Delta string
	Usage *Usage
}

// Client is the model abstraction used by the agent layer.
type Client interface {
	// Complete returns the whole answer.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream returns text deltas. The error channel receives at most one
	// error; cancelling ctx ends the stream with context.Canceled.
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Name identifies provider and model, e.g. "openai:gpt-4o-mini".
	Name() string
}

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 4096
	minRequestGap    = 100 * time.Millisecond
	maxRetries       = 3
)

// withDefaultTimeout applies timeout when ctx carries no deadline.
func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
