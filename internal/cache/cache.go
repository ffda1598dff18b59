// Package cache provides the two-tier key/value cache: a bounded in-memory
// LRU in front of a durable SQLite table. Values are opaque JSON bytes; the
// cache never deserializes them.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// keyPrefix versions every stored key. Bumping it is the rollout mechanism
// for a breaking value-format change: old rows simply stop matching.
const keyPrefix = "v1:"

var errCorrupt = errors.New("corrupt cache value")

// TwoTier is the combined cache. Safe for concurrent use.
type TwoTier struct {
	l1  *lruCache
	l2  *store
	log zerolog.Logger
}

// New creates a two-tier cache over the given substrate connection.
func New(db *sql.DB, l1Capacity int, log zerolog.Logger) *TwoTier {
	return &TwoTier{
		l1:  newLRU(l1Capacity),
		l2:  newStore(db),
		log: log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the cached bytes for a key. L1 is consulted first; an L2 hit
// is promoted into L1. Expired and corrupt rows are deleted on sight and
// reported as misses, never returned.
func (c *TwoTier) Get(key string) ([]byte, bool) {
	k := keyPrefix + key
	now := time.Now()

	if value, ok := c.l1.get(k, now); ok {
		return value, true
	}

	value, expiresAt, found, err := c.l2.get(k)
	if err != nil {
		if errors.Is(err, errCorrupt) {
			c.dropCorrupt(k)
			return nil, false
		}
		c.log.Error().Err(err).Str("key", key).Msg("Cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	if !now.Before(expiresAt) {
		if err := c.l2.delete(k); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to delete expired cache row")
		}
		return nil, false
	}
	if !json.Valid(value) {
		c.dropCorrupt(k)
		return nil, false
	}

	c.l1.set(k, value, expiresAt)
	return value, true
}

// Set writes both tiers with expiry now+ttl. A failed L2 write leaves L1
// populated so the value still serves this process; the degradation is
// logged rather than returned.
func (c *TwoTier) Set(key string, value []byte, ttl time.Duration) {
	k := keyPrefix + key
	now := time.Now()
	expiresAt := now.Add(ttl)

	c.l1.set(k, value, expiresAt)

	if err := c.l2.put(k, value, now, expiresAt); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache degraded to memory-only for key")
	}
}

// Delete removes a key from both tiers.
func (c *TwoTier) Delete(key string) {
	k := keyPrefix + key
	c.l1.delete(k)
	if err := c.l2.delete(k); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to delete cache row")
	}
}

// CleanupExpired bulk-deletes durable rows at or past expiry. Resident L1
// entries expire lazily on read.
func (c *TwoTier) CleanupExpired() (int64, error) {
	return c.l2.deleteExpired(time.Now())
}

// Stats describes cache occupancy for the status surface.
type Stats struct {
	L1Entries  int   `json:"l1_entries"`
	L1Capacity int   `json:"l1_capacity"`
	L2Entries  int64 `json:"l2_entries"`
}

// Stats reports occupancy of both tiers.
func (c *TwoTier) Stats() Stats {
	l2n, err := c.l2.count()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to count cache rows")
	}
	return Stats{
		L1Entries:  c.l1.len(),
		L1Capacity: c.l1.capacity,
		L2Entries:  l2n,
	}
}

func (c *TwoTier) dropCorrupt(k string) {
	c.log.Warn().Str("key", k).Msg("Corrupt cache value deleted")
	c.l1.delete(k)
	if err := c.l2.delete(k); err != nil {
		c.log.Warn().Err(err).Str("key", k).Msg("Failed to delete corrupt cache row")
	}
}
