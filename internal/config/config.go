// Package config is the single place environment variables are read.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config is the engine's configuration surface. A missing proxy URL or API
// key is valid: the gateway skips the corresponding fallback tier.
type Config struct {
	ProxyURL       string        `env:"DIDI_PROXY_URL"`
	ProxyTimeout   time.Duration `env:"PROXY_TIMEOUT,default=15s"`
	GeminiAPIKey   string        `env:"GEMINI_API_KEY"`
	GeminiKeyParam string        `env:"GEMINI_KEY_PARAM"`
	GeminiModel    string        `env:"GEMINI_MODEL,default=gemini-2.0-flash"`
	GeminiBaseURL  string        `env:"GEMINI_BASE_URL"`
	DirectTimeout  time.Duration `env:"DIRECT_TIMEOUT,default=8s"`
	Language       string        `env:"DIDI_LANGUAGE,default=hi-IN"`
	Timezone       string        `env:"DIDI_TIMEZONE,default=Asia/Kolkata"`
	StateTable     string        `env:"STATE_TABLE"`
	SQLitePath     string        `env:"SQLITE_PATH"`
	MaxCallTurns   int           `env:"MAX_CALL_TURNS,default=12"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	LogFormat      string        `env:"LOG_FORMAT,default=json"`
	TraceExporter  string        `env:"TRACE_EXPORTER,default=none"`
}

// Load reads an optional .env file from the working directory and then the
// process environment. Values already in the environment win over .env.
func Load(ctx context.Context, envFiles ...string) (Config, error) {
	// A missing .env is the normal case in Lambda.
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)
	c.GeminiAPIKey = strings.TrimSpace(c.GeminiAPIKey)
	c.GeminiKeyParam = strings.TrimSpace(c.GeminiKeyParam)
	c.Language = strings.TrimSpace(c.Language)
	c.Timezone = strings.TrimSpace(c.Timezone)
}

// Validate rejects values that would stall a live call.
func (c Config) Validate() error {
	if c.DirectTimeout <= 0 || c.DirectTimeout >= 10*time.Second {
		return fmt.Errorf("config: DIRECT_TIMEOUT must be between 0 and 10s, got %s", c.DirectTimeout)
	}
	if c.ProxyTimeout <= 0 {
		return fmt.Errorf("config: PROXY_TIMEOUT must be positive, got %s", c.ProxyTimeout)
	}
	if c.MaxCallTurns <= 0 {
		return fmt.Errorf("config: MAX_CALL_TURNS must be positive, got %d", c.MaxCallTurns)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves DIDI_TIMEZONE, the zone assumed for callers that do not
// report their own clock. Empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: DIDI_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// HasProxy reports whether the proxy tier is configured.
func (c Config) HasProxy() bool { return c.ProxyURL != "" }

// HasDirectKey reports whether a direct API key source is configured.
func (c Config) HasDirectKey() bool { return c.GeminiAPIKey != "" || c.GeminiKeyParam != "" }
