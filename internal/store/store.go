// Package store defines how a collection's index pair is persisted.
//
// Every backend keeps a sequence of immutable generations per collection and a
// single pointer naming the current one. Save writes a complete generation and
// then moves the pointer in one atomic step, so a reader never observes an
// index payload without its matching chunk list.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kamusis/folio/internal/vindex"
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

var (
	// ErrNoSnapshot is returned by Load when a collection has never been saved
	// or has been deleted.
	ErrNoSnapshot = errors.New("no persisted snapshot")
	// ErrInvalidID is returned for collection ids that cannot be stored.
	ErrInvalidID = errors.New("invalid collection id")
	// ErrConflict is returned by Save when the current generation is no
	// longer the one the caller built on.
	ErrConflict = errors.New("collection changed since it was loaded")
)

// Manifest describes one persisted generation.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	CollectionID  string    `json:"collection_id"`
	ModelID       string    `json:"model_id"`
	Dim           int       `json:"dim"`
	Rows          int       `json:"rows"`
	Generation    uint64    `json:"generation"`
	CreatedAt     time.Time `json:"created_at"`
	IndexSHA256   string    `json:"index_sha256"`
	ChunksSHA256  string    `json:"chunks_sha256"`
}

// Pair is the unit of persistence: the serialized index and its chunk list.
type Pair struct {
	Manifest Manifest
	Index    []byte
	Chunks   []byte
}

// NewPair builds a Pair and fills in the manifest checksums. The generation
// is assigned by the backend on Save.
func NewPair(collectionID, modelID string, dim, rows int, index, chunks []byte) *Pair {
	return &Pair{
		Manifest: Manifest{
			FormatVersion: FormatVersion,
			CollectionID:  collectionID,
			ModelID:       modelID,
			Dim:           dim,
			Rows:          rows,
			CreatedAt:     time.Now().UTC(),
			IndexSHA256:   checksum(index),
			ChunksSHA256:  checksum(chunks),
		},
		Index:  index,
		Chunks: chunks,
	}
}

// Verify checks the manifest against the payloads. Failures wrap
// vindex.ErrStructuralCorruption.
func (p *Pair) Verify() error {
	m := p.Manifest
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", vindex.ErrStructuralCorruption, m.FormatVersion)
	}
	if got := checksum(p.Index); m.IndexSHA256 != "" && got != m.IndexSHA256 {
		return fmt.Errorf("%w: index checksum %s does not match manifest %s", vindex.ErrStructuralCorruption, got, m.IndexSHA256)
	}
	if got := checksum(p.Chunks); m.ChunksSHA256 != "" && got != m.ChunksSHA256 {
		return fmt.Errorf("%w: chunk list checksum %s does not match manifest %s", vindex.ErrStructuralCorruption, got, m.ChunksSHA256)
	}
	if m.Rows < 0 || m.Dim <= 0 {
		return fmt.Errorf("%w: manifest has rows=%d dim=%d", vindex.ErrStructuralCorruption, m.Rows, m.Dim)
	}
	if n := bytes.Count(p.Chunks, []byte{'\n'}); n != m.Rows {
		return fmt.Errorf("%w: manifest lists %d rows, chunk list has %d lines", vindex.ErrStructuralCorruption, m.Rows, n)
	}
	return nil
}

func checksum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Store persists index pairs.
type Store interface {
	// Load returns the current pair of a collection, or ErrNoSnapshot.
	Load(ctx context.Context, collectionID string) (*Pair, error)
	// Save writes p as a new generation, makes it current and returns its
	// number. parent is the generation p was derived from, 0 for none; if the
	// current generation differs Save writes nothing and returns ErrConflict.
	Save(ctx context.Context, collectionID string, parent uint64, p *Pair) (uint64, error)
	// Delete removes every generation of a collection. Deleting an unknown
	// collection is not an error.
	Delete(ctx context.Context, collectionID string) error
	// List returns the ids of collections with a current generation, sorted.
	List(ctx context.Context) ([]string, error)
	// Prune removes all but the newest keep non-current generations of every
	// collection and returns how many generations were removed.
	Prune(ctx context.Context, keep int) (int, error)
	Close() error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateID reports whether id can name a collection on every backend.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q (allowed: letters, digits, '.', '_', '-', up to 128)", ErrInvalidID, id)
	}
	return nil
}

// Conflict reports a Save whose parent is not the current generation.
func Conflict(collectionID string, parent, current uint64) error {
	return fmt.Errorf("%w: %s is at generation %d, update was built on %d", ErrConflict, collectionID, current, parent)
}

// GenerationName is the canonical name of a generation.
func GenerationName(gen uint64) string {
	return fmt.Sprintf("gen-%020d", gen)
}

// ParseGenerationName is the inverse of GenerationName.
func ParseGenerationName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "gen-") || len(name) != 24 {
		return 0, false
	}
	gen, err := strconv.ParseUint(name[4:], 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// Stale returns the generations Prune should remove: everything except
// current and the newest keep others.
func Stale(gens []uint64, current uint64, keep int) []uint64 {
	if keep < 0 {
		keep = 0
	}
	sorted := append([]uint64(nil), gens...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	var out []uint64
	kept := 0
	for _, g := range sorted {
		if g == current {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		out = append(out, g)
	}
	return out
}

// Kind names a persistence backend.
type Kind string

const (
	KindFiles  Kind = "files"
	KindSQLite Kind = "sqlite"
	KindBolt   Kind = "bolt"
)

// Kinds returns the supported backend names.
func Kinds() []string {
	return []string{string(KindBolt), string(KindFiles), string(KindSQLite)}
}

// ParseKind resolves a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFiles, KindSQLite, KindBolt:
		return k, nil
	}
	return "", fmt.Errorf("unsupported store backend %q (supported: %s)", s, strings.Join(Kinds(), ", "))
}
