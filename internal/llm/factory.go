package llm

import (
	"context"
	"fmt"

	"juris/internal/config"
	"juris/internal/logging"
	"juris/internal/types"
)

// NewClient creates the client selected by cfg.Provider.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	logging.LLM("Creating LLM client provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "", "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Timeout = cfg.GetTimeout()
		return NewOpenAIClient(oc), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.GetTimeout(),
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (use 'openai' or 'gemini'): %w", cfg.Provider, types.ErrInvalid)
	}
}
