// Package vindex implements an exact inner-product similarity index whose rows
// are paired one to one with an ordered chunk list.
//
// Both halves live inside Index and are only ever changed together: rows are
// appended with their chunks, removal produces a new Index, and the pair is
// serialized and deserialized as a unit.
package vindex

import (
	"fmt"
	"sort"
)

// Index is a flat, exact similarity index. Stored rows have unit length so the
// inner product equals cosine similarity.
type Index struct {
	dim    int
	rows   []float32 // row-major, len(rows) == len(chunks)*dim
	chunks []Chunk
}

// New returns an empty index for vectors of length dim.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension: %d", dim)
	}
	return &Index{dim: dim}, nil
}

// Dim returns the vector dimension.
func (x *Index) Dim() int { return x.dim }

// Len returns the number of rows.
func (x *Index) Len() int { return len(x.chunks) }

// Chunks returns a copy of the chunk list in row order.
func (x *Index) Chunks() []Chunk {
	out := make([]Chunk, len(x.chunks))
	copy(out, x.chunks)
	return out
}

// Sources returns the number of rows per source document.
func (x *Index) Sources() map[string]int {
	out := make(map[string]int)
	for _, c := range x.chunks {
		out[c.SourceID]++
	}
	return out
}

// MaxSeq returns the highest sequence index stored for sourceID, or -1.
func (x *Index) MaxSeq(sourceID string) int {
	max := -1
	for _, c := range x.chunks {
		if c.SourceID == sourceID && c.Seq > max {
			max = c.Seq
		}
	}
	return max
}

// Append normalizes vectors and adds them with their chunks, in order.
// It returns the assigned row offsets. On error the index is unchanged.
func (x *Index) Append(vectors [][]float32, chunks []Chunk) ([]int, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: %d vectors, %d chunks", ErrLengthMismatch, len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != x.dim {
			return nil, fmt.Errorf("%w: vector %d has length %d, index expects %d", ErrDimensionMismatch, i, len(v), x.dim)
		}
	}

	rows := make([]float32, 0, len(vectors)*x.dim)
	for _, v := range vectors {
		rows = append(rows, NormalizeL2(v)...)
	}

	start := len(x.chunks)
	offsets := make([]int, len(chunks))
	for i := range chunks {
		offsets[i] = start + i
	}
	x.rows = append(x.rows, rows...)
	for _, c := range chunks {
		c.Metadata = c.Metadata.Clone()
		x.chunks = append(x.chunks, c)
	}
	return offsets, nil
}

// Search returns the k rows with the highest inner product against the
// normalized query, best first. Ties keep insertion order. k <= 0 or k larger
// than the row count returns every row.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has length %d, index expects %d", ErrDimensionMismatch, len(query), x.dim)
	}
	n := len(x.rows) / x.dim
	if n == 0 {
		return []Hit{}, nil
	}
	q := NormalizeL2(query)

	scores := make([]float32, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		scores[i] = Dot(q, x.rows[i*x.dim:(i+1)*x.dim])
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ra, rb := order[a], order[b]
		if scores[ra] == scores[rb] {
			return ra < rb
		}
		return scores[ra] > scores[rb]
	})

	if k <= 0 || k > n {
		k = n
	}
	hits := make([]Hit, 0, k)
	for _, row := range order {
		if len(hits) == k {
			break
		}
		if row < 0 || row >= len(x.chunks) {
			continue
		}
		c := x.chunks[row]
		c.Metadata = c.Metadata.Clone()
		hits = append(hits, Hit{Row: row, Score: scores[row], Chunk: c})
	}
	return hits, nil
}

// RebuildExcluding returns a new index holding every row for which drop
// reports false, in the original order, and the number of rows left out.
// Retained vectors are copied as stored; x is not modified.
func (x *Index) RebuildExcluding(drop func(Chunk) bool) (*Index, int) {
	out := &Index{dim: x.dim}
	removed := 0
	for i, c := range x.chunks {
		if drop(c) {
			removed++
			continue
		}
		out.rows = append(out.rows, x.rows[i*x.dim:(i+1)*x.dim]...)
		c.Metadata = c.Metadata.Clone()
		out.chunks = append(out.chunks, c)
	}
	return out, removed
}

// Clone returns a deep copy of the index.
func (x *Index) Clone() *Index {
	out := &Index{
		dim:    x.dim,
		rows:   make([]float32, len(x.rows)),
		chunks: make([]Chunk, len(x.chunks)),
	}
	copy(out.rows, x.rows)
	for i, c := range x.chunks {
		c.Metadata = c.Metadata.Clone()
		out.chunks[i] = c
	}
	return out
}
