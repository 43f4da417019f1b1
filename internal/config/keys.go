package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

// keySpec binds a dotted config key to its environment variable and to the
// Config field it sets. Secret keys are read from the environment only.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "SIKETCHAT_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.api_token", typ: kString, env: "SIKETCHAT_BACKEND_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.APIToken },
	},
	{
		key: "backend.health_timeout", typ: kDuration, env: "SIKETCHAT_BACKEND_HEALTH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.HealthTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.HealthTimeout },
	},
	{
		key: "backend.chat_timeout", typ: kDuration, env: "SIKETCHAT_BACKEND_CHAT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.ChatTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.ChatTimeout },
	},
	{
		key: "backend.feedback_timeout", typ: kDuration, env: "SIKETCHAT_BACKEND_FEEDBACK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.FeedbackTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.FeedbackTimeout },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "SIKETCHAT_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.delay", typ: kDuration, env: "SIKETCHAT_RETRY_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.Delay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.Delay },
	},
	{
		key: "cue.player", typ: kString, env: "SIKETCHAT_CUE_PLAYER",
		apply:   func(cfg *Config, v any) { cfg.Cue.Player = v.(string) },
		extract: func(cfg Config) any { return cfg.Cue.Player },
	},
	{
		key: "cue.received_delay", typ: kDuration, env: "SIKETCHAT_CUE_RECEIVED_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Cue.ReceivedDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cue.ReceivedDelay },
	},
	{
		key: "identity.customer_id", typ: kString, env: "SIKETCHAT_CUSTOMER_ID",
		apply:   func(cfg *Config, v any) { cfg.Identity.CustomerID = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.CustomerID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SIKETCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SIKETCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "mock.port", typ: kInt, env: "SIKETCHAT_MOCK_PORT",
		apply:   func(cfg *Config, v any) { cfg.Mock.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Mock.Port },
	},
}

func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kDuration:
		return time.ParseDuration(strings.TrimSpace(raw))
	default:
		return raw, nil
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// applyFile copies every non-secret key present in the file onto cfg. A
// value that does not parse is logged and the default kept.
func applyFile(cfg *Config, f *fileStore) {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := f.Lookup(s.key)
		if !ok {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring config value", "key", s.key, "value", raw, "file", f.path, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring environment override", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all non-secret config key/value pairs from cfg.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
	}
	return result
}

// ValidKeys returns the names of the keys SetKey accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// SetKey validates value against the key's type and writes it to the
// config file.
func SetKey(key, value string) error {
	return setKeyIn(openFileStore(configFilePath()), key, value)
}

func setKeyIn(f *fileStore, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	if _, err := s.parse(value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return f.Set(key, value)
}
