package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/folio/internal/vindex"
)

type stubSearcher struct {
	hits  []vindex.Hit
	err   error
	gotK  int
	gotID string
}

func (s *stubSearcher) Search(_ context.Context, id, _ string, k int) ([]vindex.Hit, error) {
	s.gotID, s.gotK = id, k
	return s.hits, s.err
}

func hit(id string, score float32, text string, meta vindex.Metadata) vindex.Hit {
	return vindex.Hit{Score: score, Chunk: vindex.Chunk{ID: id, SourceID: "src-" + id, Text: text, Metadata: meta}}
}

func TestSourceLine(t *testing.T) {
	assert.Equal(t, "--- Source: Guide, Author: Ada ---",
		SourceLine(vindex.Chunk{Metadata: vindex.Metadata{{Key: "author", Value: "Ada"}, {Key: "title", Value: "Guide"}}}))
	assert.Equal(t, "--- Source: guide.pdf ---",
		SourceLine(vindex.Chunk{Metadata: vindex.Metadata{{Key: "title", Value: " "}, {Key: "file_name", Value: "guide.pdf"}}}))
	assert.Equal(t, "--- Source: doc-7 ---", SourceLine(vindex.Chunk{SourceID: "doc-7"}))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("   ", 1.3))
	assert.Equal(t, 2, EstimateTokens("one", 1.3))
	assert.Equal(t, 13, EstimateTokens("a b c d e f g h i j", 1.3))
}

func TestBuildContext_OrdersAndStopsAtBudget(t *testing.T) {
	s := &stubSearcher{hits: []vindex.Hit{
		hit("b", 0.5, "two three four", nil),
		hit("a", 0.9, "one", vindex.Metadata{{Key: "title", Value: "Alpha"}}),
		hit("c", 0.1, "five", nil),
	}}
	a := NewAssembler(s, Options{TokenMultiplier: 1})

	// Blocks: a = 4+1 words, b = 4+3 words, c = 4+1 words.
	res, err := a.BuildContext(context.Background(), "docs", "q", 3, 12)
	require.NoError(t, err)
	assert.Equal(t, "docs", s.gotID)
	assert.Equal(t, 3, s.gotK)
	assert.Equal(t, []string{"a", "b"}, res.UsedIDs())
	assert.Equal(t, 12, res.Tokens)
	assert.Equal(t, "--- Source: Alpha ---\none\n\n--- Source: src-b ---\ntwo three four", res.Context)
}

func TestBuildContext_StopsAtFirstBlockThatDoesNotFit(t *testing.T) {
	s := &stubSearcher{hits: []vindex.Hit{
		hit("big", 0.9, "w w w w w w w w w w", nil),
		hit("small", 0.8, "x", nil),
	}}
	res, err := NewAssembler(s, Options{TokenMultiplier: 1}).BuildContext(context.Background(), "docs", "q", 5, 6)
	require.NoError(t, err)
	assert.Empty(t, res.Used)
	assert.Equal(t, "", res.Context)
}

func TestBuildContext_NoCandidates(t *testing.T) {
	res, err := NewAssembler(&stubSearcher{}, Options{}).BuildContext(context.Background(), "docs", "q", 5, 100)
	require.NoError(t, err)
	assert.Equal(t, "", res.Context)
	assert.NotNil(t, res.Used)
	assert.Empty(t, res.Used)
}

func TestBuildContext_PropagatesSearchError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewAssembler(&stubSearcher{err: boom}, Options{}).BuildContext(context.Background(), "docs", "q", 5, 100)
	require.ErrorIs(t, err, boom)
}
