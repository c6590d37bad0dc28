package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/folio/internal/config"
	"github.com/kamusis/folio/internal/vindex"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, k)

	_, err = ParseKind("word2vec")
	require.Error(t, err)
	assert.Equal(t, []string{"hash", "openai"}, Kinds())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("FOLIO_HOME", t.TempDir())
	t.Setenv(config.EnvModel, "text-embedding-3-small")
	t.Setenv(config.EnvAPIKey, "sk-test")
	t.Setenv(config.EnvBaseURL, "")

	cfg, err := LoadConfig(config.EmbeddingsConfig{Provider: "openai", Model: "ignored", BaseURL: "http://local/v1", BatchSize: 8})
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, cfg.Kind)
	assert.Equal(t, "text-embedding-3-small", cfg.Model)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "http://local/v1", cfg.BaseURL)
	assert.Equal(t, 8, cfg.BatchSize)
}

func TestHash_DeterministicAndNormalized(t *testing.T) {
	p, err := NewFromConfig(&Config{Kind: KindHash, Dim: 64})
	require.NoError(t, err)
	assert.Equal(t, "hash:64", p.ModelID())
	assert.Equal(t, 64, p.Dim())

	ctx := context.Background()
	a, err := p.Embed(ctx, "Vector search over documents")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "Vector search over documents")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, vindex.Dot(a, a), 1e-5)
}

func TestHash_SharedVocabularyScoresHigher(t *testing.T) {
	p, err := NewHash(256)
	require.NoError(t, err)
	ctx := context.Background()

	vecs, err := p.EmbedBatch(ctx, []string{
		"the cat sat on the mat",
		"a cat sat on a mat",
		"quarterly revenue grew by eight percent",
	})
	require.NoError(t, err)
	near := vindex.Dot(vecs[0], vecs[1])
	far := vindex.Dot(vecs[0], vecs[2])
	assert.Greater(t, near, far)
}

func TestHash_RejectsEmptyText(t *testing.T) {
	p, _ := NewHash(0)
	assert.Equal(t, DefaultHashDim, p.Dim())
	_, err := p.Embed(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyText)
	_, err = p.EmbedBatch(context.Background(), []string{"ok", ""})
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestHash_CancelledContext(t *testing.T) {
	p, _ := NewHash(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Embed(ctx, "hello")
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenAI_BatchesAndReordersByIndex(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-small", req.Model)

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		// Reply in reverse order to exercise index-based placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Object: "embedding", Index: i, Embedding: []float64{float64(len(req.Input[i])), 1, 0}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	p, err := NewFromConfig(&Config{
		Kind:      KindOpenAI,
		Model:     "embed-small",
		APIKey:    "sk-test",
		BaseURL:   srv.URL + "/v1",
		BatchSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "openai:embed-small", p.ModelID())
	assert.Equal(t, 0, p.Dim())

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, p.Dim())
}

func TestOpenAI_RequiresCredentials(t *testing.T) {
	_, err := NewOpenAI(&Config{Kind: KindOpenAI, Model: "m"})
	require.Error(t, err)
	_, err = NewOpenAI(&Config{Kind: KindOpenAI, APIKey: "k"})
	require.Error(t, err)
}
