package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"juris/internal/logging"
	"juris/internal/types"
)

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns defaults for api.openai.com.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: defaultTimeout,
	}
}

// OpenAIClient implements Client for OpenAI-compatible chat completions.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	timeout     time.Duration
	httpClient  *http.Client
	backoff     time.Duration
	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAIClient creates a client from config.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		// No client timeout: streams are bounded by ctx instead.
		httpClient: &http.Client{},
		backoff:    time.Second,
	}
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return "openai:" + c.model }

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []Message            `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   float64              `json:"temperature"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta *struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) buildBody(req Request, stream bool) openAIRequest {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	body := openAIRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	return body
}

// throttle enforces a minimum gap between requests.
func (c *OpenAIClient) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := sleepCtx(ctx, minRequestGap-time.Since(c.lastRequest)); err != nil {
		return err
	}
	c.lastRequest = time.Now()
	return nil
}

// post sends the request, retrying transport errors, 429 and 5xx with
// exponential backoff. The caller owns the returned body.
func (c *OpenAIClient) post(ctx context.Context, body openAIRequest) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("llm api key not configured: %w", types.ErrUnavailable)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<uint(attempt-1))
			logging.LLMDebug("[OpenAI] retry %d/%d in %v: %v", attempt, maxRetries, wait, lastErr)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		}
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body.Stream {
			req.Header.Set("Accept", "text/event-stream")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			continue
		}
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	logging.LLMDebug("[OpenAI] Complete: model=%s messages=%d", c.model, len(req.Messages))

	resp, err := c.post(ctx, c.buildBody(req, false))
	if err != nil {
		logging.LLMError("[OpenAI] Complete failed after %v: %v", time.Since(start), err)
		return nil, err
	}
	defer resp.Body.Close()

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("API error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("no completion returned")
	}

	res := &Response{Text: strings.TrimSpace(out.Choices[0].Message.Content)}
	if out.Usage != nil {
		res.Usage = Usage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens}
	}
	logging.LLM("[OpenAI] Complete: done in %v len=%d", time.Since(start), len(res.Text))
	return res, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		ctx, cancel := withDefaultTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		logging.LLMDebug("[OpenAI] Stream: model=%s messages=%d", c.model, len(req.Messages))

		resp, err := c.post(ctx, c.buildBody(req, true))
		if err != nil {
			logging.LLMError("[OpenAI] Stream: request failed after %v: %v", time.Since(start), err)
			errc <- err
			return
		}
		defer resp.Body.Close()

		// Closing the body unblocks the scanner when ctx is cancelled.
		stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
		defer stop()

		if err := c.readSSE(ctx, resp.Body, chunks); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
				logging.LLMDebug("[OpenAI] Stream: cancelled after %v", time.Since(start))
			} else {
				logging.LLMError("[OpenAI] Stream: error after %v: %v", time.Since(start), err)
			}
			errc <- err
			return
		}
		logging.LLM("[OpenAI] Stream: completed in %v", time.Since(start))
	}()

	return chunks, errc
}

// readSSE parses "data:" lines until [DONE]. A body that ends without
// [DONE] is a truncated stream.
func (c *OpenAIClient) readSSE(ctx context.Context, body io.Reader, out chan<- Chunk) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logging.LLMDebug("[OpenAI] skipping malformed chunk: %v", err)
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("API error: %s", chunk.Error.Message)
		}

		var piece Chunk
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
			piece.Delta = chunk.Choices[0].Delta.Content
		}
		if chunk.Usage != nil {
			piece.Usage = &Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
		}
		if piece.Delta == "" && piece.Usage == nil {
			continue
		}
		select {
		case out <- piece:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream error: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("stream ended before [DONE]: %w", io.ErrUnexpectedEOF)
}
