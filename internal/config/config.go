package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend  BackendConfig
	Retry    RetryConfig
	Cue      CueConfig
	Identity IdentityConfig
	Storage  StorageConfig
	Log      LogConfig
	Mock     MockConfig
}

// BackendConfig points the widget at the support backend. BaseURL is the
// API root; the chatbot endpoints live under BaseURL + "/chatbot".
type BackendConfig struct {
	BaseURL         string
	APIToken        string
	HealthTimeout   time.Duration
	ChatTimeout     time.Duration
	FeedbackTimeout time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

type CueConfig struct {
	Player        string // "bell" or "none"
	ReceivedDelay time.Duration
}

type IdentityConfig struct {
	CustomerID string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type MockConfig struct {
	Port int
}

// Defaults returns the built-in configuration before any file or
// environment overrides.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:         "http://localhost:5001/api",
			HealthTimeout:   5 * time.Second,
			ChatTimeout:     15 * time.Second,
			FeedbackTimeout: 5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
		},
		Cue: CueConfig{
			Player:        "bell",
			ReceivedDelay: 300 * time.Millisecond,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Mock: MockConfig{
			Port: 5001,
		},
	}
}

// Load reads configuration from the JSON config file, an optional .env file
// in the working directory, and environment variables.
//
// The file lives at $XDG_CONFIG_HOME/siketchat/config.json. Environment
// variables (SIKETCHAT_*) override file values; values from .env never
// override variables already present in the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(openFileStore(configFilePath()))
}

func loadWith(f *fileStore) (Config, error) {
	cfg := Defaults()
	applyFile(&cfg, f)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the loaded values are usable.
func (c Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url cannot be empty")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	for name, d := range map[string]time.Duration{
		"backend.health_timeout":   c.Backend.HealthTimeout,
		"backend.chat_timeout":     c.Backend.ChatTimeout,
		"backend.feedback_timeout": c.Backend.FeedbackTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must be >= 0")
	}
	switch c.Cue.Player {
	case "bell", "none":
	default:
		return fmt.Errorf("cue.player must be \"bell\" or \"none\", got %q", c.Cue.Player)
	}
	return nil
}
