// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/pixstory/pkg/logging"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config is the complete server configuration.
type Config struct {
	Listen string    `yaml:"listen"`
	Log    LogConfig `yaml:"log"`

	// Provider selects the backend: "openai" or "ark".
	Provider string `yaml:"provider"`

	// Identity is the default caller identity when requests carry none.
	Identity string `yaml:"identity"`

	// ProviderKeyEnv names the environment variable holding the default
	// provider key.
	ProviderKeyEnv string `yaml:"provider_key_env"`

	OpenAI   OpenAIConfig   `yaml:"openai"`
	Ark      ArkConfig      `yaml:"ark"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Redis    RedisConfig    `yaml:"redis"`
	Runs     RunsConfig     `yaml:"runs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	ChatModel  string        `yaml:"chat_model"`
	ImageModel string        `yaml:"image_model"`
	ImageSize  string        `yaml:"image_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ArkConfig configures the Volcengine Ark backend.
type ArkConfig struct {
	BaseURL    string `yaml:"base_url"`
	ChatModel  string `yaml:"chat_model"`
	ImageModel string `yaml:"image_model"`
	ImageSize  string `yaml:"image_size"`
}

// DispatchConfig configures rate limiting and timeouts.
type DispatchConfig struct {
	MinInterval      time.Duration `yaml:"min_interval"`
	ItemTimeout      time.Duration `yaml:"item_timeout"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`
}

// RedisConfig configures the optional Redis connection.
type RedisConfig struct {
	// Addr enables Redis when set.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// SharedLimiter spaces dispatches across every process sharing Redis.
	SharedLimiter bool `yaml:"shared_limiter"`

	// CacheTTL enables the result cache when positive.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RunsConfig configures the run registry.
type RunsConfig struct {
	// Retention is how long finished runs stay queryable.
	Retention time.Duration `yaml:"retention"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Listen:         ":8080",
		Log:            LogConfig{Level: string(logging.LevelInfo)},
		Provider:       ProviderOpenAI,
		Identity:       "pixstory",
		ProviderKeyEnv: "OPENAI_API_KEY",
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			ImageModel: "dall-e-3",
			ImageSize:  "1024x1024",
			Timeout:    90 * time.Second,
		},
		Ark: ArkConfig{
			BaseURL:    "https://ark.cn-beijing.volces.com/api/v3",
			ChatModel:  "doubao-seed-1-6-vision-250815",
			ImageModel: "doubao-seedream-4-0-250828",
			ImageSize:  "1K",
		},
		Dispatch: DispatchConfig{
			MinInterval:      300 * time.Millisecond,
			ItemTimeout:      60 * time.Second,
			SynthesisTimeout: 120 * time.Second,
		},
		Runs: RunsConfig{Retention: 10 * time.Minute},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, err := logging.ParseLevel(logging.LogLevel(c.Log.Level)); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.BaseURL == "" || c.OpenAI.ChatModel == "" || c.OpenAI.ImageModel == "" {
			return fmt.Errorf("openai: base_url, chat_model and image_model are required")
		}
	case ProviderArk:
		if c.Ark.BaseURL == "" || c.Ark.ChatModel == "" || c.Ark.ImageModel == "" {
			return fmt.Errorf("ark: base_url, chat_model and image_model are required")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Dispatch.MinInterval < 0 {
		return fmt.Errorf("dispatch: min_interval must not be negative")
	}
	if c.Dispatch.ItemTimeout < 0 || c.Dispatch.SynthesisTimeout < 0 {
		return fmt.Errorf("dispatch: timeouts must not be negative")
	}

	if c.Redis.Addr == "" && (c.Redis.SharedLimiter || c.Redis.CacheTTL > 0) {
		return fmt.Errorf("redis: addr is required for shared_limiter and cache_ttl")
	}
	if c.Redis.SharedLimiter && c.Dispatch.MinInterval < time.Millisecond {
		return fmt.Errorf("redis: shared_limiter needs min_interval of at least 1ms")
	}
	if c.Runs.Retention <= 0 {
		return fmt.Errorf("runs: retention must be positive")
	}
	return nil
}
