package vindex

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(source string, seq int, text string) Chunk {
	return Chunk{
		ID:       fmt.Sprintf("%s#%d", source, seq),
		SourceID: source,
		Seq:      seq,
		Text:     text,
		Metadata: Metadata{{Key: "title", Value: source}},
	}
}

func TestAppend_SelfSimilarityIsTop(t *testing.T) {
	idx, err := New(3)
	require.NoError(t, err)

	offsets, err := idx.Append(
		[][]float32{{1, 0, 0}, {0, 2, 0}, {1, 1, 0}},
		[]Chunk{chunk("a", 0, "x"), chunk("a", 1, "y"), chunk("b", 0, "z")},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, offsets)

	hits, err := idx.Search([]float32{0, 5, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a#1", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestAppend_DimensionMismatchLeavesIndexUntouched(t *testing.T) {
	idx, err := New(2)
	require.NoError(t, err)
	_, err = idx.Append([][]float32{{1, 0}}, []Chunk{chunk("a", 0, "x")})
	require.NoError(t, err)

	_, err = idx.Append(
		[][]float32{{0, 1}, {1, 1, 1}},
		[]Chunk{chunk("b", 0, "y"), chunk("b", 1, "z")},
	)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len())
	assert.Len(t, idx.rows, 2)
}

func TestAppend_LengthMismatch(t *testing.T) {
	idx, _ := New(2)
	_, err := idx.Append([][]float32{{1, 0}}, nil)
	require.ErrorIs(t, err, ErrLengthMismatch)
	assert.Equal(t, 0, idx.Len())
}

func TestSearch_KLargerThanRowsReturnsAllRanked(t *testing.T) {
	idx, _ := New(2)
	_, err := idx.Append(
		[][]float32{{0, 1}, {1, 0}, {1, 1}},
		[]Chunk{chunk("a", 0, "up"), chunk("a", 1, "right"), chunk("a", 2, "diag")},
	)
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []int{1, 2, 0}, []int{hits[0].Row, hits[1].Row, hits[2].Row})
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	idx, _ := New(2)
	_, err := idx.Append(
		[][]float32{{1, 0}, {2, 0}, {3, 0}},
		[]Chunk{chunk("a", 0, "p"), chunk("a", 1, "q"), chunk("a", 2, "r")},
	)
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i, h := range hits {
		assert.Equal(t, i, h.Row)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx, _ := New(4)
	hits, err := idx.Search([]float32{1, 2, 3, 4}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	idx, _ := New(4)
	_, err := idx.Search([]float32{1}, 3)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearch_SkipsRowsOutsideChunkList(t *testing.T) {
	idx, _ := New(2)
	_, err := idx.Append([][]float32{{1, 0}, {0, 1}}, []Chunk{chunk("a", 0, "p"), chunk("a", 1, "q")})
	require.NoError(t, err)
	idx.chunks = idx.chunks[:1]

	hits, err := idx.Search([]float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Row)
}

func TestRebuildExcluding_PreservesOrderAndVectors(t *testing.T) {
	idx, _ := New(2)
	_, err := idx.Append(
		[][]float32{{1, 0}, {0, 1}, {3, 4}, {1, 1}},
		[]Chunk{chunk("a", 0, "a0"), chunk("b", 0, "b0"), chunk("a", 1, "a1"), chunk("c", 0, "c0")},
	)
	require.NoError(t, err)

	out, removed := idx.RebuildExcluding(func(c Chunk) bool { return c.SourceID == "a" })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"b#0", "c#0"}, []string{out.chunks[0].ID, out.chunks[1].ID})
	assert.Equal(t, idx.rows[2:4], out.rows[0:2])
	assert.Equal(t, idx.rows[6:8], out.rows[2:4])
	assert.Equal(t, 4, idx.Len(), "source index must not change")
}

func TestSerializePair_RoundTripKeepsRanking(t *testing.T) {
	idx, _ := New(3)
	_, err := idx.Append(
		[][]float32{{1, 2, 3}, {3, 2, 1}, {0, 1, 0}},
		[]Chunk{chunk("a", 0, "one"), chunk("a", 1, "two"), chunk("b", 0, "three")},
	)
	require.NoError(t, err)

	ib, cb, err := idx.SerializePair()
	require.NoError(t, err)
	loaded, err := DeserializePair(ib, cb)
	require.NoError(t, err)

	q := []float32{1, 1, 0.5}
	before, err := idx.Search(q, 3)
	require.NoError(t, err)
	after, err := loaded.Search(q, 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeserializePair_CountMismatchIsCorruption(t *testing.T) {
	idx, _ := New(2)
	_, err := idx.Append([][]float32{{1, 0}, {0, 1}}, []Chunk{chunk("a", 0, "p"), chunk("a", 1, "q")})
	require.NoError(t, err)
	ib, cb, err := idx.SerializePair()
	require.NoError(t, err)

	short := cb[:len(cb)/2]
	for len(short) > 0 && short[len(short)-1] != '\n' {
		short = short[:len(short)-1]
	}
	_, err = DeserializePair(ib, short)
	require.ErrorIs(t, err, ErrStructuralCorruption)

	_, err = DeserializePair(ib[:len(ib)-4], cb)
	require.ErrorIs(t, err, ErrStructuralCorruption)

	_, err = DeserializePair([]byte("garbage"), cb)
	require.ErrorIs(t, err, ErrStructuralCorruption)
}

func TestMetadata_JSONKeepsOrder(t *testing.T) {
	m := Metadata{{Key: "title", Value: "Z"}, {Key: "author", Value: "A"}, {Key: "pages", Value: "3"}}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Z","author":"A","pages":"3"}`, string(b))

	var back Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"b":"1","a":2,"c":true}`), &back))
	assert.Equal(t, Metadata{{Key: "b", Value: "1"}, {Key: "a", Value: "2"}, {Key: "c", Value: "true"}}, back)

	require.Error(t, json.Unmarshal([]byte(`{"a":{"nested":1}}`), &back))
}

func TestMetadata_Validate(t *testing.T) {
	assert.NoError(t, Metadata{{Key: "a", Value: "1"}}.Validate())
	assert.Error(t, Metadata{{Key: " ", Value: "1"}}.Validate())
	assert.Error(t, Metadata{{Key: "a"}, {Key: "a"}}.Validate())
}
