package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kamusis/folio/internal/config"
)

// Provider embeds text into a fixed-length float vector.
//
// Implementations must be deterministic for the same input text and model.
type Provider interface {
	ModelID() string
	// Dim is the vector length, or 0 when a remote provider has not answered yet.
	Dim() int
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrEmptyText is returned when asked to embed blank text.
var ErrEmptyText = errors.New("cannot embed empty text")

// Kind names an embeddings backend.
type Kind string

const (
	KindHash   Kind = "hash"
	KindOpenAI Kind = "openai"
)

type factory func(cfg *Config) (Provider, error)

var factories = map[Kind]factory{
	KindHash:   func(cfg *Config) (Provider, error) { return NewHash(cfg.Dim) },
	KindOpenAI: func(cfg *Config) (Provider, error) { return NewOpenAI(cfg) },
}

// Kinds returns the supported provider names, sorted.
func Kinds() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// ParseKind resolves a provider name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := factories[k]; !ok {
		return "", fmt.Errorf("unsupported embeddings provider %q (supported: %s)", s, strings.Join(Kinds(), ", "))
	}
	return k, nil
}

// Config contains the resolved embeddings configuration.
type Config struct {
	Kind      Kind
	Model     string
	APIKey    string
	BaseURL   string
	Dim       int
	BatchSize int
}

// LoadConfig resolves embeddings config from folio.yaml settings, with the
// model, base URL and API key taken from environment variables first, then
// ~/.folio/.env.
func LoadConfig(ec config.EmbeddingsConfig) (*Config, error) {
	kind, err := ParseKind(ec.Provider)
	if err != nil {
		return nil, err
	}
	model, err := config.GetConfigValue(config.EnvModel)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = ec.Model
	}
	apiKey, err := config.GetConfigValue(config.EnvAPIKey)
	if err != nil {
		return nil, err
	}
	baseURL, err := config.GetConfigValue(config.EnvBaseURL)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = ec.BaseURL
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &Config{
		Kind:      kind,
		Model:     model,
		APIKey:    apiKey,
		BaseURL:   baseURL,
		Dim:       ec.Dim,
		BatchSize: ec.BatchSize,
	}, nil
}

// NewFromConfig returns an embeddings provider.
func NewFromConfig(cfg *Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embeddings config is nil")
	}
	f, ok := factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported embeddings provider: %q", cfg.Kind)
	}
	return f(cfg)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
