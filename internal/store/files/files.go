// Package files stores collection generations as plain files:
//
//	<root>/<collection>/CURRENT            name of the current generation
//	<root>/<collection>/gen-<n>/manifest.json
//	<root>/<collection>/gen-<n>/index.f32
//	<root>/<collection>/gen-<n>/chunks.jsonl
//
// A generation is written into a temporary directory and renamed into place;
// CURRENT is then replaced through a temporary file and a rename.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/kamusis/folio/internal/store"
)

const (
	currentFile  = "CURRENT"
	manifestFile = "manifest.json"
	indexFile    = "index.f32"
	chunksFile   = "chunks.jsonl"
	lockFile     = ".lock"
	tmpPrefix    = ".tmp-gen-"
)

// Store is a store.Store over a directory tree.
type Store struct {
	root      string
	lockRetry time.Duration
}

// Open returns a Store rooted at root, creating it if needed.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create store dir %s: %w", root, err)
	}
	return &Store{root: root, lockRetry: 50 * time.Millisecond}, nil
}

func (s *Store) dir(id string) (string, error) {
	if err := store.ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// lock takes the per-collection writer lock shared with other processes. dir
// must exist.
func (s *Store) lock(ctx context.Context, dir string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, lockFile))
	ok, err := fl.TryLockContext(ctx, s.lockRetry)
	if err != nil {
		return nil, fmt.Errorf("cannot lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("cannot lock %s: another writer holds it", dir)
	}
	return fl, nil
}

func (s *Store) Load(ctx context.Context, id string) (*store.Pair, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gen, err := readCurrent(dir)
	if err != nil {
		return nil, err
	}
	genDir := filepath.Join(dir, store.GenerationName(gen))

	mb, err := os.ReadFile(filepath.Join(genDir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest of %s: %w", id, err)
	}
	var m store.Manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest in %s: %w", genDir, err)
	}
	ib, err := os.ReadFile(filepath.Join(genDir, indexFile))
	if err != nil {
		return nil, fmt.Errorf("cannot read index of %s: %w", id, err)
	}
	cb, err := os.ReadFile(filepath.Join(genDir, chunksFile))
	if err != nil {
		return nil, fmt.Errorf("cannot read chunk list of %s: %w", id, err)
	}
	return &store.Pair{Manifest: m, Index: ib, Chunks: cb}, nil
}

func (s *Store) Save(ctx context.Context, id string, parent uint64, p *store.Pair) (uint64, error) {
	dir, err := s.dir(id)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("cannot create collection dir %s: %w", dir, err)
	}
	fl, err := s.lock(ctx, dir)
	if err != nil {
		return 0, err
	}
	defer fl.Unlock()

	current, err := readCurrent(dir)
	if err != nil && !errors.Is(err, store.ErrNoSnapshot) {
		return 0, err
	}
	if current != parent {
		return 0, store.Conflict(id, parent, current)
	}

	gens, err := generations(dir)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if len(gens) > 0 {
		next = gens[len(gens)-1] + 1
	}

	tmp, err := os.MkdirTemp(dir, tmpPrefix)
	if err != nil {
		return 0, fmt.Errorf("cannot create temp generation dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = removeAll(tmp)
		}
	}()

	m := p.Manifest
	m.CollectionID = id
	m.Generation = next
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := writeFileSync(filepath.Join(tmp, indexFile), p.Index); err != nil {
		return 0, err
	}
	if err := writeFileSync(filepath.Join(tmp, chunksFile), p.Chunks); err != nil {
		return 0, err
	}
	if err := writeFileSync(filepath.Join(tmp, manifestFile), mb); err != nil {
		return 0, err
	}

	genDir := filepath.Join(dir, store.GenerationName(next))
	if err := os.Rename(tmp, genDir); err != nil {
		return 0, fmt.Errorf("cannot publish generation %d: %w", next, err)
	}
	committed = true
	syncDir(dir)

	if err := writeCurrent(dir, next); err != nil {
		_ = removeAll(genDir)
		return 0, err
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	fl, err := s.lock(ctx, dir)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	// Drop the pointer first so a concurrent reader sees "absent", not a
	// half-removed generation.
	if err := os.Remove(filepath.Join(dir, currentFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove %s: %w", currentFile, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("cannot read collection dir %s: %w", dir, err)
	}
	for _, e := range entries {
		// The lock file stays so that every writer keeps locking the same inode.
		if e.Name() == lockFile {
			continue
		}
		if err := removeAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("cannot remove %s of %s: %w", e.Name(), id, err)
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read store dir %s: %w", s.root, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || store.ValidateID(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), currentFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := s.pruneOne(ctx, id, keep)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) pruneOne(ctx context.Context, id string, keep int) (int, error) {
	dir := filepath.Join(s.root, id)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	fl, err := s.lock(ctx, dir)
	if err != nil {
		if _, serr := os.Stat(dir); errors.Is(serr, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer fl.Unlock()

	current, err := readCurrent(dir)
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) {
			return 0, nil
		}
		return 0, err
	}
	gens, err := generations(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, g := range store.Stale(gens, current, keep) {
		if err := removeAll(filepath.Join(dir, store.GenerationName(g))); err != nil {
			return removed, fmt.Errorf("cannot remove generation %d of %s: %w", g, id, err)
		}
		removed++
	}

	// Leftovers of interrupted saves.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), tmpPrefix) {
			_ = removeAll(filepath.Join(dir, e.Name()))
		}
	}
	return removed, nil
}

func (s *Store) Close() error { return nil }

func readCurrent(dir string) (uint64, error) {
	b, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, store.ErrNoSnapshot
		}
		return 0, fmt.Errorf("cannot read %s: %w", currentFile, err)
	}
	gen, ok := store.ParseGenerationName(strings.TrimSpace(string(b)))
	if !ok {
		return 0, fmt.Errorf("invalid %s in %s: %q", currentFile, dir, strings.TrimSpace(string(b)))
	}
	return gen, nil
}

func writeCurrent(dir string, gen uint64) error {
	tmp := filepath.Join(dir, currentFile+".tmp")
	if err := writeFileSync(tmp, []byte(store.GenerationName(gen)+"\n")); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cannot replace %s: %w", currentFile, err)
	}
	syncDir(dir)
	return nil
}

// generations lists the generation numbers present in dir, ascending.
func generations(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read collection dir %s: %w", dir, err)
	}
	var out []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if g, ok := store.ParseGenerationName(e.Name()); ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("cannot sync %s: %w", path, err)
	}
	return f.Close()
}

// syncDir flushes directory entries; not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
