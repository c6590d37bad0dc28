// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/folio/internal/store"
)

// Run exercises a backend. open must return a fresh, empty store; it is
// called once per subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("LoadMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.Load(context.Background(), "nothing")
		require.ErrorIs(t, err, store.ErrNoSnapshot)
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		p := pair("docs", 2)

		gen, err := s.Save(ctx, "docs", 0, p)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), gen)

		got, err := s.Load(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, p.Index, got.Index)
		assert.Equal(t, p.Chunks, got.Chunks)
		assert.Equal(t, gen, got.Manifest.Generation)
		assert.Equal(t, "docs", got.Manifest.CollectionID)
		assert.Equal(t, "hash:4", got.Manifest.ModelID)
		require.NoError(t, got.Verify())
	})

	t.Run("SaveAdvancesCurrent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		first, err := s.Save(ctx, "docs", 0, pair("docs", 1))
		require.NoError(t, err)
		gen, err := s.Save(ctx, "docs", first, pair("docs", 3))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), gen)

		got, err := s.Load(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 3, got.Manifest.Rows)
	})

	t.Run("DeleteAndList", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, id := range []string{"b", "a", "c"} {
			_, err := s.Save(ctx, id, 0, pair(id, 1))
			require.NoError(t, err)
		}
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids)

		require.NoError(t, s.Delete(ctx, "b"))
		require.NoError(t, s.Delete(ctx, "never-existed"))
		_, err = s.Load(ctx, "b")
		require.ErrorIs(t, err, store.ErrNoSnapshot)

		ids, err = s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids)
	})

	t.Run("PruneKeepsCurrentAndNewest", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		var gen uint64
		for i := 1; i <= 5; i++ {
			var err error
			gen, err = s.Save(ctx, "docs", gen, pair("docs", i))
			require.NoError(t, err)
		}
		_, err := s.Save(ctx, "other", 0, pair("other", 1))
		require.NoError(t, err)

		removed, err := s.Prune(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		got, err := s.Load(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, uint64(5), got.Manifest.Generation)

		removed, err = s.Prune(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("RejectsInvalidID", func(t *testing.T) {
		s := open(t)
		_, err := s.Save(context.Background(), "../escape", 0, pair("x", 1))
		require.ErrorIs(t, err, store.ErrInvalidID)
	})

	t.Run("SaveRejectsStaleParent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		first, err := s.Save(ctx, "docs", 0, pair("docs", 1))
		require.NoError(t, err)
		second, err := s.Save(ctx, "docs", first, pair("docs", 2))
		require.NoError(t, err)

		_, err = s.Save(ctx, "docs", first, pair("docs", 3))
		require.ErrorIs(t, err, store.ErrConflict)
		_, err = s.Save(ctx, "docs", 0, pair("docs", 3))
		require.ErrorIs(t, err, store.ErrConflict)
		_, err = s.Save(ctx, "fresh", 7, pair("fresh", 1))
		require.ErrorIs(t, err, store.ErrConflict)

		got, err := s.Load(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, second, got.Manifest.Generation)
		assert.Equal(t, 2, got.Manifest.Rows)
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"docs"}, ids)
	})

	t.Run("SaveAfterDeleteStartsOver", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		gen, err := s.Save(ctx, "docs", 0, pair("docs", 1))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "docs"))

		_, err = s.Save(ctx, "docs", gen, pair("docs", 2))
		require.ErrorIs(t, err, store.ErrConflict)
		_, err = s.Save(ctx, "docs", 0, pair("docs", 2))
		require.NoError(t, err)
		got, err := s.Load(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Manifest.Rows)
	})
}

// pair builds a small, self-consistent Pair with rows chunk lines.
func pair(id string, rows int) *store.Pair {
	index := []byte(fmt.Sprintf("index-%s-%d", id, rows))
	var chunks []byte
	for i := 0; i < rows; i++ {
		chunks = append(chunks, []byte(fmt.Sprintf("{\"id\":\"%s-%d\"}\n", id, i))...)
	}
	return store.NewPair(id, "hash:4", 4, rows, index, chunks)
}
