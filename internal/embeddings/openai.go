package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIProvider struct {
	client    openai.Client
	model     string
	want      int
	batchSize int
	dim       atomic.Int64
}

// NewOpenAI constructs a provider for any OpenAI-compatible /embeddings
// endpoint. Inputs are sent in batches of at most cfg.BatchSize; a positive
// cfg.Dim is forwarded as the requested dimension.
func NewOpenAI(cfg *Config) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embeddings model is not configured (set FOLIO_EMBEDDINGS_MODEL)")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings API key is not configured (set FOLIO_EMBEDDINGS_API_KEY)")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64
	}
	p := &openAIProvider{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
			option.WithRequestTimeout(30*time.Second),
			option.WithMaxRetries(2),
		),
		model:     cfg.Model,
		want:      cfg.Dim,
		batchSize: batch,
	}
	if cfg.Dim > 0 {
		p.dim.Store(int64(cfg.Dim))
	}
	return p, nil
}

func (p *openAIProvider) ModelID() string {
	return "openai:" + p.model
}

func (p *openAIProvider) Dim() int {
	return int(p.dim.Load())
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *openAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		vecs, err := p.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *openAIProvider) request(ctx context.Context, batch []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.want > 0 {
		params.Dimensions = openai.Int(int64(p.want))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(batch))
	}

	out := make([][]float32, len(batch))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(batch) || out[i] != nil {
			return nil, fmt.Errorf("embeddings response has invalid index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embeddings response missing embedding for input %d", i)
		}
		out[i] = toFloat32(d.Embedding)
	}
	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("embeddings response mixes dimensions: input %d has %d, expected %d", i, len(v), dim)
		}
	}
	p.dim.Store(int64(dim))
	return out, nil
}
