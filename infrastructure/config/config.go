// Package config loads the application configuration from YAML with
// environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load errors.
var (
	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Chat    ChatConfig    `yaml:"chat"`
	Skills  SkillsConfig  `yaml:"skills"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig configures the local store.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// EncryptionKey protects stored credentials. Hex or raw, 32 bytes after
	// decoding. Usually set via ${DBPILOT_ENCRYPTION_KEY}.
	EncryptionKey string `yaml:"encryption_key"`
}

// CacheConfig configures the session cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ChatConfig configures the chat loop.
type ChatConfig struct {
	MaxIterations     int `yaml:"max_iterations"`
	AutoMaxIterations int `yaml:"auto_max_iterations"`
}

// SkillsConfig configures skill loading.
type SkillsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Path: filepath.Join(home, ".dbpilot", "dbpilot.db"),
		},
		Cache: CacheConfig{
			TTL: 30 * time.Minute,
		},
		Chat: ChatConfig{
			MaxIterations:     30,
			AutoMaxIterations: 999,
		},
		Skills: SkillsConfig{
			Dir:   filepath.Join(home, ".dbpilot", "skills"),
			Watch: true,
		},
	}
}

// Load reads a YAML config file, expands ${ENV} references, and merges it
// over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("%w: negative cache TTL", ErrInvalidConfig)
	}
	if c.Chat.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be at least 1", ErrInvalidConfig)
	}
	if c.Chat.AutoMaxIterations < c.Chat.MaxIterations {
		return fmt.Errorf("%w: auto_max_iterations below max_iterations", ErrInvalidConfig)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage path is empty", ErrInvalidConfig)
	}
	return nil
}
