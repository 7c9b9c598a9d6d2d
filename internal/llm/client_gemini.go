package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"juris/internal/logging"
	"juris/internal/types"

	"google.golang.org/genai"
)

// GeminiConfig configures the genai-backed client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional endpoint override
	Timeout time.Duration
}

// GeminiClient implements Client through google.golang.org/genai.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured: %w", types.ErrUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// Name implements Client.
func (c *GeminiClient) Name() string { return "gemini:" + c.model }

// toGeminiContents maps the neutral messages onto genai contents. Gemini
// knows only "user" and "model"; system messages inside the history are
// folded into user turns.
func toGeminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func (c *GeminiClient) generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

func usageOf(resp *genai.GenerateContentResponse) *Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, toGeminiContents(req.Messages), c.generateConfig(req))
	if err != nil {
		logging.LLMError("[Gemini] Complete failed after %v: %v", time.Since(start), err)
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	out := &Response{Text: strings.TrimSpace(resp.Text())}
	if u := usageOf(resp); u != nil {
		out.Usage = *u
	}
	logging.LLM("[Gemini] Complete: done in %v len=%d", time.Since(start), len(out.Text))
	return out, nil
}

// Stream implements Client.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		ctx, cancel := withDefaultTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		var last *Usage
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, toGeminiContents(req.Messages), c.generateConfig(req)) {
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				logging.LLMError("[Gemini] Stream: error after %v: %v", time.Since(start), err)
				errc <- err
				return
			}
			if u := usageOf(resp); u != nil {
				last = u
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case chunks <- Chunk{Delta: text}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if ctx.Err() != nil {
			errc <- ctx.Err()
			return
		}
		if last != nil {
			chunks <- Chunk{Usage: last}
		}
		logging.LLM("[Gemini] Stream: completed in %v", time.Since(start))
	}()

	return chunks, errc
}
