// Package sqlite keeps rate snapshots in an embedded SQLite database,
// for hosts that run without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kylycht/currencycalc/model"
	"github.com/kylycht/currencycalc/storage"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ storage.RateStore = (*Store)(nil)

// Open opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rate_snapshot (
			slot       INTEGER PRIMARY KEY CHECK (slot = 1),
			base       TEXT NOT NULL,
			fetched_at INTEGER NOT NULL,
			rates      BLOB NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

// Save implements storage.RateStore.
func (s *Store) Save(ctx context.Context, snapshot model.RateSnapshot) error {
	blob, err := msgpack.Marshal(snapshot.Rates)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rate_snapshot (slot, base, fetched_at, rates) VALUES (1, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET base = excluded.base, fetched_at = excluded.fetched_at, rates = excluded.rates`,
		snapshot.Base, snapshot.FetchedAt, blob)
	return err
}

// LoadLatest implements storage.RateStore.
func (s *Store) LoadLatest(ctx context.Context) (*model.RateSnapshot, error) {
	var (
		snapshot model.RateSnapshot
		blob     []byte
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT base, fetched_at, rates FROM rate_snapshot WHERE slot = 1`,
	).Scan(&snapshot.Base, &snapshot.FetchedAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := msgpack.Unmarshal(blob, &snapshot.Rates); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}

	return &snapshot, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
