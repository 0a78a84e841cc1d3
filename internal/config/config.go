// Package config provides configuration loading and structs for the semret server and CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
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
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the paths of the metadata ledger and the vector index.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
}

// IndexConfig selects the vector index backend: "flat" or "faiss".
type IndexConfig struct {
	Type string `yaml:"type"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Dimensions int    `yaml:"dimensions"`
	ModelPath  string `yaml:"model_path"`
	VocabPath  string `yaml:"vocab_path"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	BatchSize  int    `yaml:"batch_size"`
}

// IngestConfig controls chunking, batching and which files a directory walk picks up.
type IngestConfig struct {
	LineWindow int      `yaml:"line_window"`
	BatchSize  int      `yaml:"batch_size"`
	Extensions []string `yaml:"extensions"`
	IgnoreFile string   `yaml:"ignore_file"`
	Ignore     []string `yaml:"ignore"`
}

// SearchConfig holds result size limits.
type SearchConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
	DebounceMS  int      `yaml:"debounce_ms"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	finish(&cfg, filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		finish(cfg, filepath.Dir(path))
		return cfg, nil
	}
	return cfg, err
}

func finish(cfg *Config, configDir string) {
	ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.VocabPath = expandPath(cfg.Embedding.VocabPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Index.Type {
	case "flat", "faiss":
	default:
		return fmt.Errorf("index.type must be flat or faiss, got %q", c.Index.Type)
	}
	switch c.Embedding.Provider {
	case "mock", "onnx", "openai":
	default:
		return fmt.Errorf("embedding.provider must be mock, onnx or openai, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.MaxK < c.Search.DefaultK {
		return fmt.Errorf("search.max_k (%d) is below search.default_k (%d)", c.Search.MaxK, c.Search.DefaultK)
	}
	return nil
}

// Save writes the config to path, creating its directory.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." || strings.HasPrefix(path, "../") {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// DefaultPath returns ~/.semret/config.yaml.
func DefaultPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".semret", "config.yaml")
	}
	return "config.yaml"
}
