// Package config loads go-tradeschool settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file in the working directory, then process environment variables.
// Command-line flags are applied by the binaries on top of the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults.
const (
	DefaultPort              = 8080
	DefaultToolTimeout       = 25 * time.Second
	DefaultOpenAIVisionModel = "gpt-4o"
	DefaultGeminiModel       = "gemini-2.0-flash"
	DefaultDedupeTTL         = 10 * time.Minute
	DefaultMaxImageBytes     = 20 << 20
)

// Config holds the server configuration.
type Config struct {
	Port     int    `koanf:"port" env:"PORT"`
	Debug    bool   `koanf:"debug" env:"DEBUG"`
	LogLevel string `koanf:"log_level" env:"LOG_LEVEL"`

	// ToolTimeout is the default wait for a capability client result.
	ToolTimeout time.Duration `koanf:"tool_timeout" env:"TOOL_TIMEOUT"`

	OpenAIAPIKey      string `koanf:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `koanf:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIVisionModel string `koanf:"openai_vision_model" env:"OPENAI_VISION_MODEL"`
	GoogleAPIKey      string `koanf:"google_api_key" env:"GOOGLE_API_KEY"`
	GeminiModel       string `koanf:"gemini_model" env:"GEMINI_MODEL"`
	MaxImageBytes     int    `koanf:"max_image_bytes" env:"MAX_IMAGE_BYTES"`

	// NATSURL enables cross-instance result relay when set.
	NATSURL string `koanf:"nats_url" env:"NATS_URL"`

	// RedisAddress enables shared tool-call de-duplication when set.
	RedisAddress string        `koanf:"redis_address" env:"REDIS_ADDRESS"`
	DedupeTTL    time.Duration `koanf:"dedupe_ttl" env:"DEDUPE_TTL"`

	ICEServers []string `koanf:"ice_servers" env:"ICE_SERVERS" envSeparator:","`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		LogLevel:          "info",
		ToolTimeout:       DefaultToolTimeout,
		OpenAIVisionModel: DefaultOpenAIVisionModel,
		GeminiModel:       DefaultGeminiModel,
		DedupeTTL:         DefaultDedupeTTL,
		MaxImageBytes:     DefaultMaxImageBytes,
	}
}

// Error describes an invalid configuration field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load builds a Config. path names an optional YAML file; an empty path
// skips the file layer. A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if cfg.Debug {
		cfg.EnableDebug()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required values are usable.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &Error{Field: "port", Reason: fmt.Sprintf("out of range: %d", c.Port)}
	}
	if c.ToolTimeout <= 0 {
		return &Error{Field: "tool_timeout", Reason: "must be positive"}
	}
	if c.MaxImageBytes <= 0 {
		return &Error{Field: "max_image_bytes", Reason: "must be positive"}
	}
	if c.RedisAddress != "" && c.DedupeTTL <= 0 {
		return &Error{Field: "dedupe_ttl", Reason: "must be positive when redis is enabled"}
	}
	return nil
}

// EnableDebug turns on request logging and debug-level logs.
func (c *Config) EnableDebug() {
	c.Debug = true
	c.LogLevel = "debug"
}

// Addr returns the listen address for Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HasVisionCredentials reports whether any inference provider is configured.
func (c Config) HasVisionCredentials() bool {
	return c.OpenAIAPIKey != "" || c.GoogleAPIKey != ""
}

// Getenv returns the environment variable or a default.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
