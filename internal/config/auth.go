package config

import "time"

// AuthConfig configures token issuance and the session store.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	Issuer       string `yaml:"issuer"`
	TokenTTL     string `yaml:"token_ttl"`
	SessionStore string `yaml:"session_store"` // sqlite, redis
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	RedisPass    string `yaml:"redis_password"`
	BcryptCost   int    `yaml:"bcrypt_cost"`
}

// ValidSessionStores lists all supported session stores.
var ValidSessionStores = []string{"sqlite", "redis"}

// GetTokenTTL returns the token lifetime as a duration.
func (c AuthConfig) GetTokenTTL() time.Duration {
	return parseDuration(c.TokenTTL, 24*time.Hour)
}

// StorageConfig configures where uploaded files are kept.
type StorageConfig struct {
	Backend           string   `yaml:"backend"` // local, gcs
	LocalDir          string   `yaml:"local_dir"`
	GCSBucket         string   `yaml:"gcs_bucket"`
	GCSCredentials    string   `yaml:"gcs_credentials"` // service account JSON path; empty uses ADC
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// ValidStorageBackends lists all supported object storage backends.
var ValidStorageBackends = []string{"local", "gcs"}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, console
	DebugMode  bool            `yaml:"debug_mode"` // debug level plus caller info
	Categories map[string]bool `yaml:"categories"` // per-category toggles
}
