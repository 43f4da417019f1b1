package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// fileStore is the persistent layer of the configuration: a flat JSON
// object of dotted keys. Values are read as text, so both "8080" and 8080
// are accepted for numeric keys.
type fileStore struct {
	path   string
	values map[string]string
}

func openFileStore(path string) *fileStore {
	f := &fileStore{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not read config file, using defaults", "file", path, "error", err)
		}
		return f
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("could not parse config file, using defaults", "file", path, "error", err)
		return f
	}
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			f.values[k] = s
			continue
		}
		f.values[k] = strings.TrimSpace(string(v))
	}
	return f
}

func (f *fileStore) Lookup(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *fileStore) Set(key, value string) error {
	f.values[key] = value
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

// configFilePath is $XDG_CONFIG_HOME/siketchat/config.json.
func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "siketchat", "config.json")
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "siketchat")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, fallback)
	}
	return "."
}
