// Package store caches raw tracer results in SQLite, keyed by transaction
// hash and tracer id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	_ "modernc.org/sqlite"
)

const (
	createTracesTable = `CREATE TABLE IF NOT EXISTS traces (
		tx         TEXT    NOT NULL,
		tracer     TEXT    NOT NULL,
		result     BLOB    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (tx, tracer)
	)`
	selectTrace = `SELECT result FROM traces WHERE tx = ? AND tracer = ?`
	upsertTrace = `INSERT INTO traces (tx, tracer, result, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tx, tracer) DO UPDATE SET result = excluded.result, created_at = excluded.created_at`
	deleteTrace = `DELETE FROM traces WHERE tx = ?`
	countTraces = `SELECT COUNT(*) FROM traces`
	pruneTraces = `DELETE FROM traces WHERE created_at < ?`
)

// Store is a SQLite-backed trace cache. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log log.Logger
}

// Open opens or creates the cache database at path. The parent directory is
// created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTracesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db, log: log.New("module", "store", "path", path)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached result for a transaction and tracer.
func (s *Store) Get(ctx context.Context, tx common.Hash, tracer string) (json.RawMessage, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectTrace, tx.Hex(), tracer).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", tx.Hex(), err)
	}
	return json.RawMessage(raw), true, nil
}

// Put stores or replaces a result.
func (s *Store) Put(ctx context.Context, tx common.Hash, tracer string, raw json.RawMessage) error {
	if _, err := s.db.ExecContext(ctx, upsertTrace, tx.Hex(), tracer, []byte(raw), time.Now().Unix()); err != nil {
		return fmt.Errorf("store: put %s: %w", tx.Hex(), err)
	}
	s.log.Debug("Cached trace", "tx", tx, "tracer", tracer, "bytes", len(raw))
	return nil
}

// Delete drops every cached result for a transaction.
func (s *Store) Delete(ctx context.Context, tx common.Hash) error {
	if _, err := s.db.ExecContext(ctx, deleteTrace, tx.Hex()); err != nil {
		return fmt.Errorf("store: delete %s: %w", tx.Hex(), err)
	}
	return nil
}

// Prune drops results stored before the cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneTraces, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	if n > 0 {
		s.log.Info("Pruned trace cache", "removed", n)
	}
	return n, nil
}

// Len is the number of cached results.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countTraces).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}
