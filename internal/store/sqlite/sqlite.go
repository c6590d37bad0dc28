// Package sqlite stores collection generations in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kamusis/folio/internal/store"
)

const schema = `
	CREATE TABLE IF NOT EXISTS generations (
		collection  TEXT    NOT NULL,
		generation  INTEGER NOT NULL,
		manifest    TEXT    NOT NULL,
		index_blob  BLOB,
		chunks_blob BLOB,
		created_at  TEXT    NOT NULL,
		PRIMARY KEY (collection, generation)
	);
	CREATE TABLE IF NOT EXISTS current (
		collection TEXT PRIMARY KEY,
		generation INTEGER NOT NULL
	);
`

// Store is a store.Store backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	// A single connection keeps pragmas in effect and serializes writers.
	s.db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context, id string) (*store.Pair, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	var (
		manifest string
		p        store.Pair
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT g.manifest, g.index_blob, g.chunks_blob
		FROM current c
		JOIN generations g ON g.collection = c.collection AND g.generation = c.generation
		WHERE c.collection = ?`, id).Scan(&manifest, &p.Index, &p.Chunks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("cannot load %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(manifest), &p.Manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest for %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) Save(ctx context.Context, id string, parent uint64, p *store.Pair) (uint64, error) {
	if err := store.ValidateID(id); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT generation FROM current WHERE collection = ?", id).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("cannot read current generation of %s: %w", id, err)
	}
	if uint64(current) != parent {
		return 0, store.Conflict(id, parent, uint64(current))
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(generation) FROM generations WHERE collection = ?", id).Scan(&last); err != nil {
		return 0, fmt.Errorf("cannot read generations of %s: %w", id, err)
	}
	next := uint64(1)
	if last.Valid {
		next = uint64(last.Int64) + 1
	}

	m := p.Manifest
	m.CollectionID = id
	m.Generation = next
	mb, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO generations (collection, generation, manifest, index_blob, chunks_blob, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, int64(next), string(mb), p.Index, p.Chunks, m.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00")); err != nil {
		return 0, fmt.Errorf("cannot insert generation %d of %s: %w", next, id, err)
	}
	// The pointer only moves if it still names parent.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO current (collection, generation) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET generation = excluded.generation
		WHERE current.generation = ?`,
		id, int64(next), int64(parent))
	if err != nil {
		return 0, fmt.Errorf("cannot publish generation %d of %s: %w", next, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, store.Conflict(id, parent, uint64(current))
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cannot commit generation %d of %s: %w", next, id, err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := store.ValidateID(id); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM current WHERE collection = ?", id); err != nil {
		return fmt.Errorf("cannot delete %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE collection = ?", id); err != nil {
		return fmt.Errorf("cannot delete %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT collection FROM current ORDER BY collection")
	if err != nil {
		return nil, fmt.Errorf("cannot list collections: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	type key struct {
		collection string
		generation uint64
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT g.collection, g.generation, c.generation
		FROM generations g
		JOIN current c ON c.collection = g.collection`)
	if err != nil {
		return 0, fmt.Errorf("cannot list generations: %w", err)
	}
	gens := map[string][]uint64{}
	current := map[string]uint64{}
	for rows.Next() {
		var (
			id     string
			g, cur int64
		)
		if err := rows.Scan(&id, &g, &cur); err != nil {
			rows.Close()
			return 0, err
		}
		gens[id] = append(gens[id], uint64(g))
		current[id] = uint64(cur)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	var stale []key
	for id, gs := range gens {
		for _, g := range store.Stale(gs, current[id], keep) {
			stale = append(stale, key{id, g})
		}
	}
	for _, k := range stale {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM generations WHERE collection = ? AND generation = ?", k.collection, int64(k.generation)); err != nil {
			return 0, fmt.Errorf("cannot prune generation %d of %s: %w", k.generation, k.collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
