// Package retrieval turns search hits into a token-bounded context block for
// a downstream prompt.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/kamusis/folio/internal/vindex"
)

// DefaultTokenMultiplier approximates tokens per whitespace-separated word.
const DefaultTokenMultiplier = 1.3

// Searcher returns ranked chunks for a query. *collection.Manager satisfies it.
type Searcher interface {
	Search(ctx context.Context, collectionID, query string, k int) ([]vindex.Hit, error)
}

// Options configures an Assembler.
type Options struct {
	TokenMultiplier float64
}

// Assembler builds context strings.
type Assembler struct {
	searcher   Searcher
	multiplier float64
}

// Result is the outcome of BuildContext.
type Result struct {
	Context string
	// Used lists the included hits in inclusion order.
	Used   []vindex.Hit
	Tokens int
}

// UsedIDs returns the chunk ids of Used.
func (r Result) UsedIDs() []string {
	out := make([]string, len(r.Used))
	for i, h := range r.Used {
		out[i] = h.Chunk.ID
	}
	return out
}

// NewAssembler returns an Assembler over s.
func NewAssembler(s Searcher, opts Options) *Assembler {
	m := opts.TokenMultiplier
	if m <= 0 {
		m = DefaultTokenMultiplier
	}
	return &Assembler{searcher: s, multiplier: m}
}

// BuildContext searches collectionID for the topK best chunks and joins them,
// best first, until the next block would push the estimate past tokenBudget.
func (a *Assembler) BuildContext(ctx context.Context, collectionID, query string, topK, tokenBudget int) (Result, error) {
	hits, err := a.searcher.Search(ctx, collectionID, query, topK)
	if err != nil {
		return Result{}, err
	}
	return a.Assemble(hits, tokenBudget), nil
}

// Assemble orders hits by descending score (stable) and packs them into the
// budget. It stops at the first block that does not fit.
func (a *Assembler) Assemble(hits []vindex.Hit, tokenBudget int) Result {
	ranked := make([]vindex.Hit, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	res := Result{Used: []vindex.Hit{}}
	var blocks []string
	for _, h := range ranked {
		block := SourceLine(h.Chunk) + "\n" + h.Chunk.Text
		cost := EstimateTokens(block, a.multiplier)
		if res.Tokens+cost > tokenBudget {
			break
		}
		blocks = append(blocks, block)
		res.Used = append(res.Used, h)
		res.Tokens += cost
	}
	res.Context = strings.Join(blocks, "\n\n")
	return res
}

// EstimateTokens approximates the token count of text as its word count times
// multiplier, rounded up.
func EstimateTokens(text string, multiplier float64) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * multiplier))
}

// SourceLine renders the attribution header of a chunk:
//
//	--- Source: <title>[, Author: <author>] ---
//
// The title falls back to file_name, then to the source id.
func SourceLine(c vindex.Chunk) string {
	title, _ := c.Metadata.Get("title")
	if strings.TrimSpace(title) == "" {
		title, _ = c.Metadata.Get("file_name")
	}
	if strings.TrimSpace(title) == "" {
		title = c.SourceID
	}
	line := "--- Source: " + strings.TrimSpace(title)
	if author, ok := c.Metadata.Get("author"); ok && strings.TrimSpace(author) != "" {
		line += ", Author: " + strings.TrimSpace(author)
	}
	return line + " ---"
}
