package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/folio/internal/store"
	"github.com/kamusis/folio/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "collections"))
		require.NoError(t, err)
		return s
	})
}

func TestSave_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	p := store.NewPair("docs", "hash:4", 4, 1, []byte("vectors"), []byte("{}\n"))
	gen, err := s.Save(context.Background(), "docs", 0, p)
	require.NoError(t, err)

	cur, err := os.ReadFile(filepath.Join(root, "docs", "CURRENT"))
	require.NoError(t, err)
	assert.Equal(t, store.GenerationName(gen)+"\n", string(cur))
	for _, name := range []string{"manifest.json", "index.f32", "chunks.jsonl"} {
		_, err := os.Stat(filepath.Join(root, "docs", store.GenerationName(gen), name))
		assert.NoError(t, err, name)
	}
}

func TestLoad_CurrentPointsAtMissingGeneration(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	_, err = s.Save(context.Background(), "docs", 0, store.NewPair("docs", "hash:4", 4, 0, []byte("v"), nil))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "docs", store.GenerationName(1))))
	_, err = s.Load(context.Background(), "docs")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNoSnapshot)
}

func TestPrune_RemovesInterruptedSaves(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	_, err = s.Save(context.Background(), "docs", 0, store.NewPair("docs", "hash:4", 4, 0, []byte("v"), nil))
	require.NoError(t, err)

	leftover := filepath.Join(root, "docs", tmpPrefix+"123")
	require.NoError(t, os.MkdirAll(leftover, 0o755))

	_, err = s.Prune(context.Background(), 0)
	require.NoError(t, err)
	_, err = os.Stat(leftover)
	assert.True(t, os.IsNotExist(err))
}

func TestDelete_RemovesEverythingButTheLock(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	ctx := context.Background()
	gen, err := s.Save(ctx, "docs", 0, store.NewPair("docs", "hash:4", 4, 0, []byte("v"), nil))
	require.NoError(t, err)
	_, err = s.Save(ctx, "docs", gen, store.NewPair("docs", "hash:4", 4, 0, []byte("w"), nil))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "docs"))
	entries, err := os.ReadDir(filepath.Join(root, "docs"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{lockFile}, names)

	// A writer that built on the deleted generation is refused.
	_, err = s.Save(ctx, "docs", 2, store.NewPair("docs", "hash:4", 4, 0, []byte("x"), nil))
	require.ErrorIs(t, err, store.ErrConflict)

	gen, err = s.Save(ctx, "docs", 0, store.NewPair("docs", "hash:4", 4, 0, []byte("x"), nil))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
}

func TestPrune_DoesNotRecreateRemovedCollection(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Save(ctx, "docs", 0, store.NewPair("docs", "hash:4", 4, 0, []byte("v"), nil))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "docs")))

	n, err := s.pruneOne(ctx, "docs", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = os.Stat(filepath.Join(root, "docs"))
	assert.True(t, os.IsNotExist(err))
}
