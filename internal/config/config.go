// Package config provides configuration loading and structs for the
// pricematch server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Matching  MatchingConfig  `yaml:"matching"`
	Batch     BatchConfig     `yaml:"batch"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the persistence backend. Driver is "sqlite" or
// "mongo"; the unused backend's fields are ignored.
type StorageConfig struct {
	Driver           string `yaml:"driver"`
	DatabasePath     string `yaml:"database_path"`
	MongoURI         string `yaml:"mongo_uri"`
	MongoDatabase    string `yaml:"mongo_database"`
	CatalogIndexPath string `yaml:"catalog_index_path"`
}

// EmbeddingConfig holds provider adapter settings shared by all providers.
// API keys come from the environment, never from this file.
type EmbeddingConfig struct {
	DefaultModel          string  `yaml:"default_model"`
	BatchSize             int     `yaml:"batch_size"`
	MaxAttempts           int     `yaml:"max_attempts"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	RateLimit             float64 `yaml:"rate_limit"`
	Burst                 int     `yaml:"burst"`
	CacheSize             int     `yaml:"cache_size"`
}

// MatchingConfig holds score blend settings.
type MatchingConfig struct {
	SemanticWeight float64 `yaml:"semantic_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight"`
}

// BatchConfig bounds the job worker pool.
type BatchConfig struct {
	MaxConcurrent     int `yaml:"max_concurrent"`
	QueueSize         int `yaml:"queue_size"`
	JobTimeoutMinutes int `yaml:"job_timeout_minutes"`
}

// InboxConfig holds hot-folder settings. Files dropped into the directory
// are parsed and submitted as matching jobs automatically.
type InboxConfig struct {
	Directory  string   `yaml:"directory"`
	Model      string   `yaml:"model"`
	Extensions []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies
// defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Storage.CatalogIndexPath != "" {
		cfg.Storage.CatalogIndexPath = expandPath(cfg.Storage.CatalogIndexPath, configDir)
	}
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "sqlite", "mongo":
	default:
		return fmt.Errorf("invalid storage driver %q (want sqlite or mongo)", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "mongo" && cfg.Storage.MongoURI == "" {
		return fmt.Errorf("storage driver mongo requires mongo_uri")
	}
	total := cfg.Matching.SemanticWeight + cfg.Matching.LexicalWeight
	if total <= 0 {
		return fmt.Errorf("matching weights must sum to a positive value")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
