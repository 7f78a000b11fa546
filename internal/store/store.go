// Package store provides the device-local persistent key-value store shared
// by every lifecycle component. All accessors are result-returning rather
// than error-returning: a storage failure degrades to "skip this step" and a
// debug log, never a crash. The store must never be the reason the user sees
// a broken screen.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// KV is the narrow surface components depend on.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) bool
	Remove(key string) bool
}

// Store is a SQLite-backed string-keyed store surviving process restarts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path and applies the production
// pragmas before the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		slog.Debug("store get failed", "key", key, "error", err)
		return "", false
	}
	return value, true
}

// Set writes key to value, reporting whether the write landed.
func (s *Store) Set(key, value string) bool {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		slog.Debug("store set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Remove deletes key. Removing an absent key still reports success.
func (s *Store) Remove(key string) bool {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		slog.Debug("store remove failed", "key", key, "error", err)
		return false
	}
	return true
}

// RemovePrefix deletes every key starting with prefix.
func (s *Store) RemovePrefix(prefix string) bool {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key LIKE ? || '%'`, prefix); err != nil {
		slog.Debug("store remove prefix failed", "prefix", prefix, "error", err)
		return false
	}
	return true
}

// Keys returns all stored keys, sorted.
func (s *Store) Keys() []string {
	rows, err := s.db.Query(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		slog.Debug("store keys failed", "error", err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			slog.Debug("store keys scan failed", "error", err)
			return keys
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		slog.Debug("store keys iteration failed", "error", err)
	}
	return keys
}

// Clear removes every key. Used by the logout wipe.
func (s *Store) Clear() bool {
	if _, err := s.db.Exec(`DELETE FROM kv`); err != nil {
		slog.Debug("store clear failed", "error", err)
		return false
	}
	return true
}
