package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend         string `yaml:"backend"`
	KeepGenerations int    `yaml:"keep_generations"`
	PruneSchedule   string `yaml:"prune_schedule,omitempty"`
}

// SegmentConfig controls chunking.
type SegmentConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
	MinLength int `yaml:"min_length"`
}

// EmbeddingsConfig holds the non-secret embeddings settings. The API key is
// only ever read from the environment or ~/.folio/.env.
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model,omitempty"`
	Dim       int    `yaml:"dim"`
	BatchSize int    `yaml:"batch_size"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// ContextConfig holds defaults for context assembly.
type ContextConfig struct {
	TopK            int     `yaml:"top_k"`
	TokenBudget     int     `yaml:"token_budget"`
	TokenMultiplier float64 `yaml:"token_multiplier"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the in-memory representation of ~/.folio/folio.yaml.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Store      StoreConfig      `yaml:"store"`
	Segment    SegmentConfig    `yaml:"segment"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Context    ContextConfig    `yaml:"context"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

const (
	DefaultChunkSize       = 1000
	DefaultOverlap         = 200
	DefaultMinLength       = 2
	DefaultProvider        = "hash"
	DefaultDim             = 256
	DefaultBatchSize       = 64
	DefaultTopK            = 5
	DefaultTokenBudget     = 4000
	DefaultTokenMultiplier = 1.3
	DefaultAddr            = "127.0.0.1:8765"
	DefaultBackend         = "files"
	DefaultKeep            = 2
	DefaultLogLevel        = "info"
)

// ErrNotInitialized is returned by Load when folio.yaml does not exist.
var ErrNotInitialized = errors.New("folio is not initialized (run: folio init)")

// FolioDir returns the absolute path to the folio home directory: $FOLIO_HOME
// when set, otherwise ~/.folio/.
func FolioDir() (string, error) {
	if v := strings.TrimSpace(os.Getenv("FOLIO_HOME")); v != "" {
		return ExpandPath(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".folio"), nil
}

// ConfigPath returns the absolute path to folio.yaml.
func ConfigPath() (string, error) {
	dir, err := FolioDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "folio.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the Config written on first folio init.
func DefaultConfig() (*Config, error) {
	dir, err := FolioDir()
	if err != nil {
		return nil, err
	}
	cfg := &Config{DataDir: filepath.Join(dir, "data")}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every zero-valued field with its default.
func (c *Config) ApplyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultBackend
	}
	if c.Store.KeepGenerations == 0 {
		c.Store.KeepGenerations = DefaultKeep
	}
	if c.Segment.ChunkSize == 0 {
		// An explicit overlap of 0 is only meaningful next to an explicit chunk size.
		c.Segment.ChunkSize = DefaultChunkSize
		if c.Segment.Overlap == 0 {
			c.Segment.Overlap = DefaultOverlap
		}
	}
	if c.Segment.MinLength == 0 {
		c.Segment.MinLength = DefaultMinLength
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = DefaultProvider
	}
	if c.Embeddings.Dim == 0 && c.Embeddings.Provider == DefaultProvider {
		c.Embeddings.Dim = DefaultDim
	}
	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = DefaultBatchSize
	}
	if c.Context.TopK == 0 {
		c.Context.TopK = DefaultTopK
	}
	if c.Context.TokenBudget == 0 {
		c.Context.TokenBudget = DefaultTokenBudget
	}
	if c.Context.TokenMultiplier == 0 {
		c.Context.TokenMultiplier = DefaultTokenMultiplier
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate reports the first invalid setting. Backend and provider names are
// resolved to their enums by the caller.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Segment.ChunkSize <= 0 {
		return fmt.Errorf("segment.chunk_size must be positive, got %d", c.Segment.ChunkSize)
	}
	if c.Segment.Overlap < 0 || c.Segment.Overlap >= c.Segment.ChunkSize {
		return fmt.Errorf("segment.overlap must be in [0, chunk_size), got %d", c.Segment.Overlap)
	}
	if c.Segment.MinLength < 0 {
		return fmt.Errorf("segment.min_length must not be negative, got %d", c.Segment.MinLength)
	}
	if c.Embeddings.Dim < 0 {
		return fmt.Errorf("embeddings.dim must not be negative, got %d", c.Embeddings.Dim)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Context.TopK <= 0 {
		return fmt.Errorf("context.top_k must be positive, got %d", c.Context.TopK)
	}
	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("context.token_budget must be positive, got %d", c.Context.TokenBudget)
	}
	if c.Context.TokenMultiplier <= 0 {
		return fmt.Errorf("context.token_multiplier must be positive, got %g", c.Context.TokenMultiplier)
	}
	if c.Store.KeepGenerations < 0 {
		return fmt.Errorf("store.keep_generations must not be negative, got %d", c.Store.KeepGenerations)
	}
	return nil
}

// Load reads and parses folio.yaml, applies defaults and validates the result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		dir, err := FolioDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = filepath.Join(dir, "data")
	}
	// Expand ~ in DataDir at load time.
	cfg.DataDir, err = ExpandPath(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save marshals cfg and writes it to folio.yaml, creating the folio home if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
