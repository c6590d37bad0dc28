// Package collection owns the registry of in-memory collections and mediates
// every mutation so that a collection's index rows and chunk list are never
// observed out of step.
//
// Each collection is published as an immutable Snapshot. Writers serialize on
// a per-collection mutex, build the next snapshot on a copy, persist it and
// only then swap it in; readers load the current snapshot atomically and never
// block on writers.
package collection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kamusis/folio/internal/embeddings"
	"github.com/kamusis/folio/internal/segment"
	"github.com/kamusis/folio/internal/store"
	"github.com/kamusis/folio/internal/vindex"
)

// chunkNamespace seeds deterministic chunk ids.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kamusis/folio/chunk"))

// Snapshot is one published state of a collection. It must not be modified.
type Snapshot struct {
	ID      string
	ModelID string
	// Dim is 0 until the first successful ingest.
	Dim        int
	Index      *vindex.Index
	Generation uint64
	// Persisted reports whether this state exists in the store.
	Persisted bool
}

// Len returns the number of chunks.
func (s *Snapshot) Len() int {
	if s.Index == nil {
		return 0
	}
	return s.Index.Len()
}

// parent is the stored generation s was loaded from or saved as, 0 if none.
func (s *Snapshot) parent() uint64 {
	if !s.Persisted {
		return 0
	}
	return s.Generation
}

// Stats summarizes a collection.
type Stats struct {
	ID         string         `json:"id"`
	ModelID    string         `json:"model_id"`
	Dim        int            `json:"dim"`
	Chunks     int            `json:"chunks"`
	Generation uint64         `json:"generation"`
	Sources    map[string]int `json:"sources"`
}

// Options configures a Manager.
type Options struct {
	Store     store.Store
	Embedder  embeddings.Provider
	Segmenter *segment.Segmenter
	Logger    *log.Logger
}

type entry struct {
	mu      sync.Mutex // serializes writers
	snap    atomic.Pointer[Snapshot]
	dropped bool // guarded by mu; set once the entry left the registry
}

// Manager is the collection registry. Construct one with NewManager and
// release it with Close.
type Manager struct {
	store    store.Store
	embedder embeddings.Provider
	seg      *segment.Segmenter
	log      *log.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	epochs  map[string]uint64 // bumped whenever an id is evicted or cleared
	loads   singleflight.Group
}

// NewManager returns a Manager over opts.Store.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("collection manager needs a store")
	}
	if opts.Embedder == nil {
		return nil, errors.New("collection manager needs an embeddings provider")
	}
	if opts.Segmenter == nil {
		return nil, errors.New("collection manager needs a segmenter")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Manager{
		store:    opts.Store,
		embedder: opts.Embedder,
		seg:      opts.Segmenter,
		log:      logger,
		entries:  make(map[string]*entry),
		epochs:   make(map[string]uint64),
	}, nil
}

// Close releases the store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Embedder returns the provider used for ingest and queries.
func (m *Manager) Embedder() embeddings.Provider { return m.embedder }

func validateID(id string) error {
	if err := store.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedInput, err)
	}
	return nil
}

// GetOrLoad returns the current snapshot of a collection, loading it from the
// store on first use. A collection with no persisted state yields an empty
// snapshot with Dim 0.
func (m *Manager) GetOrLoad(ctx context.Context, id string) (*Snapshot, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	_, snap, err := m.lookup(ctx, id, true)
	return snap, err
}

// lookup returns the resident entry for id, loading and registering it if
// needed. With create false an id that has no persisted state is not
// registered and the returned entry is nil.
func (m *Manager) lookup(ctx context.Context, id string, create bool) (*entry, *Snapshot, error) {
	for {
		m.mu.RLock()
		e := m.entries[id]
		epoch := m.epochs[id]
		m.mu.RUnlock()
		if e != nil {
			return e, e.snap.Load(), nil
		}

		v, err, _ := m.loads.Do(id+"@"+strconv.FormatUint(epoch, 10), func() (any, error) {
			return m.load(context.WithoutCancel(ctx), id)
		})
		if err != nil {
			return nil, nil, err
		}
		snap := v.(*Snapshot)
		if !snap.Persisted && !create {
			return nil, snap, nil
		}

		m.mu.Lock()
		if m.epochs[id] != epoch {
			// Cleared or evicted while loading; the loaded state may be stale.
			m.mu.Unlock()
			continue
		}
		if e := m.entries[id]; e != nil {
			m.mu.Unlock()
			return e, e.snap.Load(), nil
		}
		e = &entry{}
		e.snap.Store(snap)
		m.entries[id] = e
		m.mu.Unlock()
		m.log.Debug("collection resident", "collection", id, "chunks", snap.Len(), "generation", snap.Generation)
		return e, snap, nil
	}
}

// load reads the current persisted pair of id.
func (m *Manager) load(ctx context.Context, id string) (*Snapshot, error) {
	p, err := m.store.Load(ctx, id)
	if errors.Is(err, store.ErrNoSnapshot) {
		return &Snapshot{ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot load %s: %w", ErrPersistence, id, err)
	}
	if err := p.Verify(); err != nil {
		return nil, fmt.Errorf("collection %s: %w", id, err)
	}
	idx, err := vindex.DeserializePair(p.Index, p.Chunks)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", id, err)
	}
	if idx.Dim() != p.Manifest.Dim || idx.Len() != p.Manifest.Rows {
		return nil, fmt.Errorf("collection %s: %w: manifest says rows=%d dim=%d, payload has rows=%d dim=%d",
			id, ErrStructuralCorruption, p.Manifest.Rows, p.Manifest.Dim, idx.Len(), idx.Dim())
	}
	return &Snapshot{
		ID:         id,
		ModelID:    p.Manifest.ModelID,
		Dim:        idx.Dim(),
		Index:      idx,
		Generation: p.Manifest.Generation,
		Persisted:  true,
	}, nil
}

// mutate runs fn under the writer lock of id. fn returns the next snapshot
// (nil for no change) and the count reported to the caller. A non-nil next
// snapshot is persisted before it is published.
func (m *Manager) mutate(ctx context.Context, id string, create bool, fn func(cur *Snapshot) (*Snapshot, int, error)) (int, error) {
	for {
		e, _, err := m.lookup(ctx, id, create)
		if err != nil {
			return 0, err
		}
		if e == nil {
			return 0, nil
		}
		e.mu.Lock()
		if e.dropped {
			e.mu.Unlock()
			continue
		}
		n, err := m.apply(context.WithoutCancel(ctx), id, e, fn)
		e.mu.Unlock()
		return n, err
	}
}

// apply builds the next snapshot from the resident one and saves it. If the
// store moved on since the resident snapshot was loaded, usually because
// another process wrote the collection, the stored state is reloaded and fn
// runs once more against it.
func (m *Manager) apply(ctx context.Context, id string, e *entry, fn func(cur *Snapshot) (*Snapshot, int, error)) (int, error) {
	cur := e.snap.Load()
	for attempt := 0; ; attempt++ {
		next, n, err := fn(cur)
		if err != nil || next == nil {
			return n, err
		}
		gen, err := m.persist(ctx, id, cur.parent(), next)
		if err == nil {
			next.Generation = gen
			next.Persisted = true
			e.snap.Store(next)
			return n, nil
		}
		if attempt == 0 && errors.Is(err, store.ErrConflict) {
			if fresh, lerr := m.load(ctx, id); lerr == nil {
				m.log.Warn("collection changed in the store; reapplying", "collection", id,
					"had", cur.Generation, "now", fresh.Generation)
				e.snap.Store(fresh)
				cur = fresh
				continue
			}
		}
		m.revert(ctx, id, e)
		return 0, fmt.Errorf("%w: cannot save %s: %w", ErrPersistence, id, err)
	}
}

func (m *Manager) persist(ctx context.Context, id string, parent uint64, snap *Snapshot) (uint64, error) {
	ib, cb, err := snap.Index.SerializePair()
	if err != nil {
		return 0, err
	}
	return m.store.Save(ctx, id, parent, store.NewPair(id, snap.ModelID, snap.Dim, snap.Index.Len(), ib, cb))
}

// revert replaces the resident state of id with the last persisted one. The
// caller holds e.mu.
func (m *Manager) revert(ctx context.Context, id string, e *entry) {
	snap, err := m.load(ctx, id)
	if err != nil {
		m.log.Warn("cannot reload after failed save; evicting", "collection", id, "err", err)
		m.drop(id, e)
		return
	}
	e.snap.Store(snap)
	m.log.Warn("reverted to last persisted state", "collection", id, "generation", snap.Generation)
}

// drop removes e from the registry. The caller holds e.mu (when e is non-nil).
func (m *Manager) drop(id string, e *entry) {
	if e != nil {
		e.dropped = true
	}
	m.mu.Lock()
	if e == nil || m.entries[id] == e {
		delete(m.entries, id)
	}
	m.epochs[id]++
	m.mu.Unlock()
}

// Ingest segments text, embeds the chunks and appends them to the collection
// under sourceID. It returns the number of chunks added.
func (m *Manager) Ingest(ctx context.Context, id, sourceID, text string, meta vindex.Metadata) (int, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}
	if strings.TrimSpace(sourceID) == "" {
		return 0, fmt.Errorf("%w: source id is empty", ErrUnsupportedInput)
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: text is empty", ErrUnsupportedInput)
	}
	if err := meta.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnsupportedInput, err)
	}
	meta = meta.Clone()
	texts := segment.Texts(m.seg.Segment(text))
	if len(texts) == 0 {
		return 0, fmt.Errorf("%w: text yields no chunks", ErrUnsupportedInput)
	}

	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot embed %d chunks: %w", ErrEmbedding, len(texts), err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("%w: provider returned %d vectors for %d chunks", ErrEmbedding, len(vecs), len(texts))
	}
	dim := len(vecs[0])
	modelID := m.embedder.ModelID()

	n, err := m.mutate(ctx, id, true, func(cur *Snapshot) (*Snapshot, int, error) {
		if cur.Dim != 0 && cur.Dim != dim {
			return nil, 0, fmt.Errorf("%w: collection %s has dimension %d, embeddings have %d", ErrDimensionMismatch, id, cur.Dim, dim)
		}
		if cur.ModelID != "" && cur.ModelID != modelID {
			return nil, 0, fmt.Errorf("%w: collection %s was built with %s, provider is %s", ErrDimensionMismatch, id, cur.ModelID, modelID)
		}

		var idx *vindex.Index
		if cur.Index == nil {
			var err error
			if idx, err = vindex.New(dim); err != nil {
				return nil, 0, err
			}
		} else {
			idx = cur.Index.Clone()
		}

		base := idx.MaxSeq(sourceID) + 1
		chunks := make([]vindex.Chunk, len(texts))
		for i, t := range texts {
			seq := base + i
			chunks[i] = vindex.Chunk{
				ID:       chunkID(id, sourceID, seq),
				SourceID: sourceID,
				Seq:      seq,
				Text:     t,
				Metadata: meta,
			}
		}
		if _, err := idx.Append(vecs, chunks); err != nil {
			return nil, 0, fmt.Errorf("collection %s: %w", id, err)
		}
		return &Snapshot{ID: id, ModelID: modelID, Dim: dim, Index: idx, Generation: cur.Generation}, len(chunks), nil
	})
	if err != nil {
		return 0, err
	}
	m.log.Info("ingested", "collection", id, "source", sourceID, "chunks", n)
	return n, nil
}

func chunkID(collectionID, sourceID string, seq int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(collectionID+"/"+sourceID+"/"+strconv.Itoa(seq))).String()
}

// DeleteSource removes every chunk of sourceID and returns how many were
// removed. An unknown source or collection removes nothing and is not an error.
func (m *Manager) DeleteSource(ctx context.Context, id, sourceID string) (int, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}
	if strings.TrimSpace(sourceID) == "" {
		return 0, fmt.Errorf("%w: source id is empty", ErrUnsupportedInput)
	}
	n, err := m.mutate(ctx, id, false, func(cur *Snapshot) (*Snapshot, int, error) {
		if cur.Index == nil {
			return nil, 0, nil
		}
		idx, removed := cur.Index.RebuildExcluding(func(c vindex.Chunk) bool { return c.SourceID == sourceID })
		if removed == 0 {
			return nil, 0, nil
		}
		return &Snapshot{ID: id, ModelID: cur.ModelID, Dim: cur.Dim, Index: idx, Generation: cur.Generation}, removed, nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info("deleted source", "collection", id, "source", sourceID, "chunks", n)
	}
	return n, nil
}

// Clear discards the resident state of id and deletes its persisted artifacts.
// It works on collections whose persisted state is corrupt.
func (m *Manager) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	for {
		m.mu.RLock()
		e := m.entries[id]
		m.mu.RUnlock()
		if e != nil {
			e.mu.Lock()
			if e.dropped {
				e.mu.Unlock()
				continue
			}
		}
		err := m.store.Delete(context.WithoutCancel(ctx), id)
		m.drop(id, e)
		if e != nil {
			e.mu.Unlock()
		}
		if err != nil {
			return fmt.Errorf("%w: cannot delete %s: %w", ErrPersistence, id, err)
		}
		m.log.Info("cleared", "collection", id)
		return nil
	}
}

// Evict drops the resident state of id; the next access reloads it.
func (m *Manager) Evict(id string) {
	m.mu.RLock()
	e := m.entries[id]
	m.mu.RUnlock()
	if e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.dropped {
			return
		}
	}
	m.drop(id, e)
}

// Search embeds query and returns the k best chunks of the collection.
func (m *Manager) Search(ctx context.Context, id, query string, k int) ([]vindex.Hit, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrUnsupportedInput)
	}
	_, snap, err := m.lookup(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if snap.Index == nil {
		if !snap.Persisted {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return []vindex.Hit{}, nil
	}
	if modelID := m.embedder.ModelID(); snap.ModelID != "" && snap.ModelID != modelID {
		return nil, fmt.Errorf("%w: collection %s was built with %s, provider is %s", ErrDimensionMismatch, id, snap.ModelID, modelID)
	}
	q, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot embed query: %w", ErrEmbedding, err)
	}
	hits, err := snap.Index.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", id, err)
	}
	return hits, nil
}

// Stats describes a collection.
func (m *Manager) Stats(ctx context.Context, id string) (Stats, error) {
	if err := validateID(id); err != nil {
		return Stats{}, err
	}
	_, snap, err := m.lookup(ctx, id, false)
	if err != nil {
		return Stats{}, err
	}
	if !snap.Persisted {
		return Stats{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	st := Stats{
		ID:         id,
		ModelID:    snap.ModelID,
		Dim:        snap.Dim,
		Chunks:     snap.Len(),
		Generation: snap.Generation,
		Sources:    map[string]int{},
	}
	if snap.Index != nil {
		st.Sources = snap.Index.Sources()
	}
	return st, nil
}

// SourceChunks returns the chunks of sourceID in row order. An unknown source
// yields an empty slice.
func (m *Manager) SourceChunks(ctx context.Context, id, sourceID string) ([]vindex.Chunk, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	_, snap, err := m.lookup(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if !snap.Persisted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := []vindex.Chunk{}
	if snap.Index == nil {
		return out, nil
	}
	for _, c := range snap.Index.Chunks() {
		if c.SourceID == sourceID {
			c.Metadata = c.Metadata.Clone()
			out = append(out, c)
		}
	}
	return out, nil
}

// List returns the ids of all persisted collections, sorted.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot list collections: %w", ErrPersistence, err)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	m.mu.RLock()
	for id, e := range m.entries {
		if !seen[id] && e.snap.Load().Persisted {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Verify loads the persisted state of id, bypassing the registry, and reports
// any structural corruption.
func (m *Manager) Verify(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	snap, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if !snap.Persisted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Prune drops old generations, keeping the newest keep non-current ones per
// collection.
func (m *Manager) Prune(ctx context.Context, keep int) (int, error) {
	n, err := m.store.Prune(ctx, keep)
	if err != nil {
		return n, fmt.Errorf("%w: cannot prune: %w", ErrPersistence, err)
	}
	if n > 0 {
		m.log.Info("pruned generations", "removed", n, "keep", keep)
	}
	return n, nil
}
