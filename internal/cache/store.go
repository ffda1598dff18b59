package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// store is the durable L2 tier over the cache table.
type store struct {
	db *sql.DB
}

func newStore(db *sql.DB) *store {
	return &store{db: db}
}

// put upserts a value with its expiry. INSERT OR REPLACE keeps the write a
// single atomic statement.
func (s *store) put(key string, value []byte, insertedAt, expiresAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cache (key, value, inserted_at, expires_at) VALUES (?, ?, ?, ?)",
		key, value, domain.FormatTime(insertedAt), domain.FormatTime(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store cache key %s: %w", key, err)
	}
	return nil
}

// get returns the raw row for a key. Expiry policy is decided by the caller
// so that an expired row can be deleted and reported as a miss.
func (s *store) get(key string) (value []byte, expiresAt time.Time, found bool, err error) {
	var raw []byte
	var expires string
	row := s.db.QueryRow("SELECT value, expires_at FROM cache WHERE key = ?", key)
	if err := row.Scan(&raw, &expires); err != nil {
		if err == sql.ErrNoRows {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	exp, err := domain.ParseTime(expires)
	if err != nil {
		// Unparseable expiry is a corrupt row; surface it as such.
		return raw, time.Time{}, true, errCorrupt
	}
	return raw, exp, true, nil
}

func (s *store) delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// deleteExpired removes all rows at or past expiry and reports the count.
func (s *store) deleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM cache WHERE expires_at <= ?", domain.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache rows: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted cache rows: %w", err)
	}
	return deleted, nil
}

func (s *store) count() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache rows: %w", err)
	}
	return n, nil
}
