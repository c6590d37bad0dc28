package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/folio/internal/store"
	"github.com/kamusis/folio/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "folio.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestLoad_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folio.bolt")
	s, err := Open(path)
	require.NoError(t, err)
	p := store.NewPair("docs", "hash:4", 4, 1, []byte("vectors"), []byte("{}\n"))
	_, err = s.Save(context.Background(), "docs", 0, p)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, p.Index, got.Index)
	require.NoError(t, got.Verify())
}
