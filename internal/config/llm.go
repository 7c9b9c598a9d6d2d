package config

import "time"

// LLMConfig configures the hosted chat model.
//
// Supported providers:
//   - openai: any OpenAI-compatible chat completions endpoint (OpenAI,
//     DashScope compatible mode, OpenRouter, vLLM) selected by base_url
//   - gemini: Google Gemini through the genai SDK
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// GetTimeout returns the LLM timeout as a duration.
func (c LLMConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 120*time.Second)
}

// EmbeddingConfig configures the knowledge-base embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai, ollama, none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // ollama only
	TaskType string `yaml:"task_type"`
}

// ValidEmbeddingProviders lists all supported embedding providers.
var ValidEmbeddingProviders = []string{"genai", "ollama", "none"}
