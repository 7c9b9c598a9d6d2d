package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all juris configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Personas  PersonasConfig  `yaml:"personas"`
	Chat      ChatConfig      `yaml:"chat"`
	Export    ExportConfig    `yaml:"export"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	ReadTimeout    string   `yaml:"read_timeout"`
	WriteTimeout   string   `yaml:"write_timeout"` // 0 disables; streaming answers outlive normal requests
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PersonasConfig points at an optional YAML overlay of persona definitions.
type PersonasConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// ChatConfig tunes prompt assembly.
type ChatConfig struct {
	HistoryWindow int    `yaml:"history_window"`  // messages of history sent to the model
	RetrievalTopK int    `yaml:"retrieval_top_k"` // knowledge excerpts per question
	TitleTimeout  string `yaml:"title_timeout"`
	ShareMaxTTL   string `yaml:"share_max_ttl"`
}

// ExportConfig configures document export. PDF rendering needs a
// Chromium binary; when BrowserBin is empty the usual install paths are
// searched.
type ExportConfig struct {
	BrowserBin string `yaml:"browser_bin"`
	PDFTimeout string `yaml:"pdf_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "juris",
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    "30s",
			WriteTimeout:   "0s",
			MaxUploadBytes: 20 << 20,
			CORSOrigins:    []string{"*"},
		},

		Database: DatabaseConfig{
			Path: "data/juris.db",
		},

		Auth: AuthConfig{
			Issuer:       "juris",
			TokenTTL:     "24h",
			SessionStore: "sqlite",
			RedisAddr:    "localhost:6379",
			BcryptCost:   12,
		},

		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     openAIBaseURL,
			Model:       "gpt-4o-mini",
			Timeout:     "120s",
			Temperature: 0.3,
			MaxTokens:   4096,
		},

		Embedding: EmbeddingConfig{
			Provider: "none",
			Model:    "gemini-embedding-001",
			BaseURL:  "http://localhost:11434",
		},

		Storage: StorageConfig{
			Backend:           "local",
			LocalDir:          "data/files",
			AllowedExtensions: []string{".pdf", ".doc", ".docx", ".txt", ".md", ".html", ".png", ".jpg", ".jpeg"},
		},

		Personas: PersonasConfig{
			Watch: true,
		},

		Chat: ChatConfig{
			HistoryWindow: 20,
			RetrievalTopK: 5,
			TitleTimeout:  "20s",
			ShareMaxTTL:   "720h",
		},

		Export: ExportConfig{
			PDFTimeout: "60s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	// Left empty so applyLLMEnv can tell a provider chosen in the file from
	// the default.
	cfg.LLM.Provider, cfg.LLM.BaseURL, cfg.LLM.Model = "", "", ""

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

const (
	openAIBaseURL    = "https://api.openai.com/v1"
	dashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// llmEndpoint ties an API key variable to the provider, endpoint and
// default model it belongs to.
type llmEndpoint struct {
	keyEnv   string
	provider string
	baseURL  string
	model    string
}

// llmEndpoints is also the order used to pick a provider when neither the
// file nor JURIS_LLM_PROVIDER names one.
var llmEndpoints = []llmEndpoint{
	{"DASHSCOPE_API_KEY", "openai", dashScopeBaseURL, "qwen-plus"},
	{"OPENAI_API_KEY", "openai", openAIBaseURL, "gpt-4o-mini"},
	{"GEMINI_API_KEY", "gemini", "", "gemini-2.5-flash"},
}

// serves reports whether e's key is meant for the configured endpoint.
// A DashScope key never goes to another host and an OpenAI key never goes
// to DashScope.
func (e llmEndpoint) serves(provider, baseURL string) bool {
	if provider != "" && provider != e.provider {
		return false
	}
	if e.provider != "openai" || baseURL == "" {
		return true
	}
	isDashScope := strings.EqualFold(strings.TrimRight(baseURL, "/"), dashScopeBaseURL)
	return isDashScope == (e.baseURL == dashScopeBaseURL)
}

// applyLLMEnv resolves the LLM provider, endpoint and key. The file's
// provider wins over API key variables. When JURIS_LLM_PROVIDER switches
// provider the endpoint and model are reset to that provider's defaults.
func (c *Config) applyLLMEnv() {
	if v := os.Getenv("JURIS_LLM_PROVIDER"); v != "" && v != c.LLM.Provider {
		c.LLM.Provider, c.LLM.BaseURL, c.LLM.Model = v, "", ""
	}
	for _, e := range llmEndpoints {
		key := os.Getenv(e.keyEnv)
		if key == "" || !e.serves(c.LLM.Provider, c.LLM.BaseURL) {
			continue
		}
		if c.LLM.Provider == "" {
			c.LLM.Provider = e.provider
		}
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = e.baseURL
		}
		if c.LLM.Model == "" {
			c.LLM.Model = e.model
		}
		c.LLM.APIKey = key
		break
	}

	switch c.LLM.Provider {
	case "", "openai":
		c.LLM.Provider = "openai"
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = openAIBaseURL
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "gpt-4o-mini"
		}
	case "gemini":
		// An OpenAI-style endpoint left over in the file is not a genai endpoint.
		if u := strings.TrimRight(c.LLM.BaseURL, "/"); u == openAIBaseURL || u == dashScopeBaseURL {
			c.LLM.BaseURL = ""
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "gemini-2.5-flash"
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.applyLLMEnv()
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
	}

	if v := os.Getenv("JURIS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("JURIS_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("JURIS_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("JURIS_REDIS_ADDR"); v != "" {
		c.Auth.RedisAddr = v
		c.Auth.SessionStore = "redis"
	}
	if v := os.Getenv("JURIS_BROWSER_BIN"); v != "" {
		c.Export.BrowserBin = v
	}
	if v := os.Getenv("JURIS_GCS_BUCKET"); v != "" {
		c.Storage.GCSBucket = v
		c.Storage.Backend = "gcs"
	}
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 bytes (set JURIS_JWT_SECRET)")
	}

	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !contains(ValidEmbeddingProviders, c.Embedding.Provider) {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if !contains(ValidStorageBackends, c.Storage.Backend) {
		return fmt.Errorf("invalid storage backend: %s (valid: %v)", c.Storage.Backend, ValidStorageBackends)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
	}
	if !contains(ValidSessionStores, c.Auth.SessionStore) {
		return fmt.Errorf("invalid session store: %s (valid: %v)", c.Auth.SessionStore, ValidSessionStores)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout (0 = none).
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 0)
}

// GetTitleTimeout bounds the background title generation call.
func (c *Config) GetTitleTimeout() time.Duration {
	return parseDuration(c.Chat.TitleTimeout, 20*time.Second)
}

// GetShareMaxTTL returns the longest allowed expiring share link.
func (c *Config) GetShareMaxTTL() time.Duration {
	return parseDuration(c.Chat.ShareMaxTTL, 30*24*time.Hour)
}

// GetPDFTimeout bounds one PDF rendering.
func (c *Config) GetPDFTimeout() time.Duration {
	return parseDuration(c.Export.PDFTimeout, 60*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
