package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistent cache tier.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the persistent cache at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent gateway writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			stored_at  INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init cache schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Put upserts an entry.
func (s *Store) Put(key string, value []byte, storedAt, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, value, stored_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`, key, value, storedAt.UnixMilli(), expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Get reads an entry regardless of expiry; the caller decides freshness.
func (s *Store) Get(key string) (value []byte, storedAt, expiresAt time.Time, err error) {
	var storedMs, expiresMs int64
	err = s.db.QueryRow(`
		SELECT value, stored_at, expires_at FROM cache_entries WHERE key = ?
	`, key).Scan(&value, &storedMs, &expiresMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("cache miss for %s: %w", key, err)
		}
		return nil, time.Time{}, time.Time{}, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, time.UnixMilli(storedMs), time.UnixMilli(expiresMs), nil
}

// DeleteExpiredBefore removes entries whose expiry is older than the cutoff.
// The cutoff lags real time so recently expired entries stay available for
// the stale fallback path.
func (s *Store) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
