// Package bolt stores collection generations in a bbolt database.
//
// Layout: a root "collections" bucket holds one bucket per collection, each
// with a nested "generations" bucket (8-byte big-endian keys, one sub-bucket
// per generation) and a "current" key naming the live generation.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kamusis/folio/internal/store"
)

var (
	bucketCollections = []byte("collections")
	bucketGenerations = []byte("generations")
	keyCurrent        = []byte("current")
	keyManifest       = []byte("manifest")
	keyIndex          = []byte("index")
	keyChunks         = []byte("chunks")
)

// Store is a store.Store backed by bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCollections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func genKey(g uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], g)
	return b[:]
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (s *Store) Load(ctx context.Context, id string) (*store.Pair, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p store.Pair
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb := tx.Bucket(bucketCollections).Bucket([]byte(id))
		if cb == nil {
			return store.ErrNoSnapshot
		}
		cur := cb.Get(keyCurrent)
		if cur == nil {
			return store.ErrNoSnapshot
		}
		gb := cb.Bucket(bucketGenerations)
		if gb == nil {
			return fmt.Errorf("collection %s has no generations bucket", id)
		}
		b := gb.Bucket(cur)
		if b == nil {
			return fmt.Errorf("current generation %d of %s is missing", binary.BigEndian.Uint64(cur), id)
		}
		if err := json.Unmarshal(b.Get(keyManifest), &p.Manifest); err != nil {
			return fmt.Errorf("invalid manifest for %s: %w", id, err)
		}
		// Values are only valid inside the transaction.
		p.Index = clone(b.Get(keyIndex))
		p.Chunks = clone(b.Get(keyChunks))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) Save(ctx context.Context, id string, parent uint64, p *store.Pair) (uint64, error) {
	if err := store.ValidateID(id); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var next uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		cb, err := tx.Bucket(bucketCollections).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		var current uint64
		if cur := cb.Get(keyCurrent); len(cur) == 8 {
			current = binary.BigEndian.Uint64(cur)
		}
		if current != parent {
			return store.Conflict(id, parent, current)
		}
		gb, err := cb.CreateBucketIfNotExists(bucketGenerations)
		if err != nil {
			return err
		}
		next, err = gb.NextSequence()
		if err != nil {
			return err
		}
		m := p.Manifest
		m.CollectionID = id
		m.Generation = next
		mb, err := json.Marshal(m)
		if err != nil {
			return err
		}
		b, err := gb.CreateBucket(genKey(next))
		if err != nil {
			return err
		}
		if err := b.Put(keyManifest, mb); err != nil {
			return err
		}
		if err := b.Put(keyIndex, p.Index); err != nil {
			return err
		}
		if err := b.Put(keyChunks, p.Chunks); err != nil {
			return err
		}
		return cb.Put(keyCurrent, genKey(next))
	})
	if err != nil {
		return 0, fmt.Errorf("cannot save %s: %w", id, err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := store.ValidateID(id); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketCollections).DeleteBucket([]byte(id))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			cb := tx.Bucket(bucketCollections).Bucket(k)
			if cb != nil && cb.Get(keyCurrent) != nil {
				out = append(out, string(k))
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		var ids [][]byte
		if err := root.ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, clone(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			cb := root.Bucket(id)
			cur := cb.Get(keyCurrent)
			gb := cb.Bucket(bucketGenerations)
			if cur == nil || gb == nil {
				continue
			}
			var gens []uint64
			if err := gb.ForEach(func(gk, _ []byte) error {
				if len(gk) == 8 {
					gens = append(gens, binary.BigEndian.Uint64(gk))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, g := range store.Stale(gens, binary.BigEndian.Uint64(cur), keep) {
				if err := gb.DeleteBucket(genKey(g)); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cannot prune: %w", err)
	}
	return removed, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
