package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/kamusis/folio/internal/vindex"
)

// DefaultHashDim is the vector length used when no dimension is configured.
const DefaultHashDim = 256

type hashProvider struct {
	dim int
}

// NewHash returns a local feature-hashing embedder. Word unigrams and bigrams
// are hashed with FNV-1a into dim signed buckets and the result is
// L2-normalized, so texts sharing vocabulary score high under cosine.
func NewHash(dim int) (Provider, error) {
	if dim == 0 {
		dim = DefaultHashDim
	}
	if dim < 0 {
		return nil, fmt.Errorf("invalid hash embedding dimension: %d", dim)
	}
	return &hashProvider{dim: dim}, nil
}

func (p *hashProvider) ModelID() string {
	return fmt.Sprintf("hash:%d", p.dim)
}

func (p *hashProvider) Dim() int {
	return p.dim
}

func (p *hashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vec := make([]float32, p.dim)
	words := tokenize(text)
	for i, w := range words {
		p.add(vec, w, 1)
		if i > 0 {
			p.add(vec, words[i-1]+" "+w, 0.5)
		}
	}
	return vindex.NormalizeL2(vec), nil
}

func (p *hashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (p *hashProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(p.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

// tokenize lowercases text and splits it into runs of letters and digits.
func tokenize(text string) []string {
	var words []string
	var word strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	if word.Len() > 0 {
		words = append(words, word.String())
	}
	return words
}
