package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

func setupCache(t *testing.T, l1Capacity int) (*TwoTier, *database.DB) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache_test.db"),
		Profile: database.ProfileStandard,
		Name:    "cache_test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return New(db.Conn(), l1Capacity, zerolog.Nop()), db
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c, _ := setupCache(t, 8)

	c.Set("chain:NVDA", []byte(`{"strike":100}`), time.Hour)

	got, ok := c.Get("chain:NVDA")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"strike":100}`), got)

	_, ok = c.Get("chain:AMD")
	assert.False(t, ok, "unknown key must miss")
}

func TestExpiredValueNeverReturned(t *testing.T) {
	c, _ := setupCache(t, 8)

	// Already past expiry on arrival; no cleanup pass has run.
	c.Set("stale", []byte(`"v"`), -time.Millisecond)

	_, ok := c.Get("stale")
	assert.False(t, ok)

	// The read itself removed the dead row from both tiers.
	stats := c.Stats()
	assert.Zero(t, stats.L1Entries)
	assert.Zero(t, stats.L2Entries)
}

func TestGetPromotesDurableHitIntoL1(t *testing.T) {
	first, db := setupCache(t, 8)
	first.Set("price:NVDA", []byte(`181.5`), time.Hour)

	// A fresh process: empty L1 over the same substrate.
	second := New(db.Conn(), 8, zerolog.Nop())
	require.Zero(t, second.Stats().L1Entries)

	got, ok := second.Get("price:NVDA")
	require.True(t, ok)
	assert.Equal(t, []byte(`181.5`), got)
	assert.Equal(t, 1, second.Stats().L1Entries, "durable hit promotes")
}

func TestL2WriteFailureDegradesToMemory(t *testing.T) {
	c, db := setupCache(t, 8)

	// Close the substrate: durable writes now fail, the resident tier
	// still serves this process.
	require.NoError(t, db.Close())
	c.Set("only-l1", []byte(`1`), time.Hour)

	got, ok := c.Get("only-l1")
	require.True(t, ok)
	assert.Equal(t, []byte(`1`), got)
}

func TestCorruptValueDeletedAndMissed(t *testing.T) {
	c, db := setupCache(t, 8)

	expires := domain.FormatTime(time.Now().Add(time.Hour))
	_, err := db.Conn().Exec(
		"INSERT INTO cache (key, value, inserted_at, expires_at) VALUES (?, ?, ?, ?)",
		"v1:mangled", []byte(`{"broken`), domain.FormatTime(time.Now()), expires,
	)
	require.NoError(t, err)

	_, ok := c.Get("mangled")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().L2Entries, "corrupt row deleted on sight")
}

func TestCorruptExpiryDeletedAndMissed(t *testing.T) {
	c, db := setupCache(t, 8)

	_, err := db.Conn().Exec(
		"INSERT INTO cache (key, value, inserted_at, expires_at) VALUES (?, ?, ?, ?)",
		"v1:badclock", []byte(`"fine"`), domain.FormatTime(time.Now()), "not a timestamp",
	)
	require.NoError(t, err)

	_, ok := c.Get("badclock")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().L2Entries)
}

func TestDeleteRemovesBothTiers(t *testing.T) {
	c, _ := setupCache(t, 8)

	c.Set("gone", []byte(`1`), time.Hour)
	c.Delete("gone")

	_, ok := c.Get("gone")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().L2Entries)
}

func TestCleanupExpiredCountsDeadRows(t *testing.T) {
	c, _ := setupCache(t, 8)

	c.Set("dead1", []byte(`1`), -time.Minute)
	c.Set("dead2", []byte(`2`), -time.Minute)
	c.Set("live", []byte(`3`), time.Hour)

	deleted, err := c.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	got, ok := c.Get("live")
	require.True(t, ok)
	assert.Equal(t, []byte(`3`), got)
}

func TestStatsReportsOccupancy(t *testing.T) {
	c, _ := setupCache(t, 4)

	c.Set("a", []byte(`1`), time.Hour)
	c.Set("b", []byte(`2`), time.Hour)

	stats := c.Stats()
	assert.Equal(t, 2, stats.L1Entries)
	assert.Equal(t, 4, stats.L1Capacity)
	assert.Equal(t, int64(2), stats.L2Entries)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	l := newLRU(2)
	far := time.Now().Add(time.Hour)

	l.set("a", []byte(`1`), far)
	l.set("b", []byte(`2`), far)

	// Touch a so b becomes the eviction candidate.
	_, ok := l.get("a", time.Now())
	require.True(t, ok)

	l.set("c", []byte(`3`), far)

	_, ok = l.get("b", time.Now())
	assert.False(t, ok, "least recently used entry survives eviction")
	_, ok = l.get("a", time.Now())
	assert.True(t, ok)
	_, ok = l.get("c", time.Now())
	assert.True(t, ok)
	assert.Equal(t, 2, l.len())
}

func TestLRUSetRefreshesRecency(t *testing.T) {
	l := newLRU(2)
	far := time.Now().Add(time.Hour)

	l.set("a", []byte(`1`), far)
	l.set("b", []byte(`2`), far)
	l.set("a", []byte(`1b`), far) // rewrite, not insert
	l.set("c", []byte(`3`), far)

	_, ok := l.get("b", time.Now())
	assert.False(t, ok, "set counts as a use")
	got, ok := l.get("a", time.Now())
	require.True(t, ok)
	assert.Equal(t, []byte(`1b`), got)
}

func TestLRUExpiresLazily(t *testing.T) {
	l := newLRU(2)

	l.set("soon", []byte(`1`), time.Now().Add(-time.Second))
	_, ok := l.get("soon", time.Now())
	assert.False(t, ok)
	assert.Zero(t, l.len(), "expired entry removed on read")
}
