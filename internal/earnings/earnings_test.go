package earnings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/earningscal"
	"github.com/pmak99/trading-desk-public-sub003/internal/clock"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

type stubVendor struct {
	entries []earningscal.CalendarEntry
	err     error
	calls   int
}

func (v *stubVendor) GetEarningsCalendar(ctx context.Context, horizon earningscal.Horizon) ([]earningscal.CalendarEntry, error) {
	v.calls++
	return v.entries, v.err
}

func setupCalendar(t *testing.T) (*Store, *Service, *stubVendor, *clock.MarketClock) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "earnings_test.db"),
		Profile: database.ProfileStandard,
		Name:    "earnings_test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	kv := cache.New(db.Conn(), 32, zerolog.Nop())
	store := NewStore(db, zerolog.Nop())
	mc, err := clock.New(zerolog.Nop())
	require.NoError(t, err)
	vendor := &stubVendor{}
	return store, NewService(vendor, store, kv, mc, time.Hour, zerolog.Nop()), vendor, mc
}

func event(ticker, date string) domain.EarningsEvent {
	return domain.EarningsEvent{
		Ticker:     ticker,
		ReportDate: date,
		Timing:     domain.TimingAMC,
		Confirmed:  true,
		SourceID:   "test",
	}
}

func TestUpsertAndGet(t *testing.T) {
	store, _, _, _ := setupCalendar(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, event("nvda", "2026-09-02")))

	got, err := store.Get(ctx, "NVDA", "2026-09-02")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "NVDA", got.Ticker)
	assert.Equal(t, domain.TimingAMC, got.Timing)
	assert.True(t, got.Confirmed)
	assert.Equal(t, "test", got.SourceID)
	assert.False(t, got.UpdatedAt.IsZero())

	// Re-upsert moves the sync fields.
	ev := event("NVDA", "2026-09-02")
	ev.Timing = domain.TimingBMO
	ev.Confirmed = false
	require.NoError(t, store.Upsert(ctx, ev))

	got, err = store.Get(ctx, "NVDA", "2026-09-02")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.TimingBMO, got.Timing)
	assert.False(t, got.Confirmed)
}

func TestGetMissingEvent(t *testing.T) {
	store, _, _, _ := setupCalendar(t)

	got, err := store.Get(context.Background(), "NVDA", "2026-09-02")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertRejectsBadInput(t *testing.T) {
	store, _, _, _ := setupCalendar(t)
	ctx := context.Background()

	var ve *domain.ValidationError
	assert.ErrorAs(t, store.Upsert(ctx, event("TOOLONGX", "2026-09-02")), &ve)
	assert.Error(t, store.Upsert(ctx, event("NVDA", "September 2nd")))
}

func TestWindowOrdersByDateThenTicker(t *testing.T) {
	store, _, _, _ := setupCalendar(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, []domain.EarningsEvent{
		event("MSFT", "2026-09-03"),
		event("NVDA", "2026-09-02"),
		event("AAPL", "2026-09-03"),
		event("CRM", "2026-09-10"),
	}))

	events, err := store.Window(ctx, "2026-09-02", "2026-09-10")
	require.NoError(t, err)

	require.Len(t, events, 3, "window end is exclusive")
	assert.Equal(t, "NVDA", events[0].Ticker)
	assert.Equal(t, "AAPL", events[1].Ticker)
	assert.Equal(t, "MSFT", events[2].Ticker)
}

func TestNextEvent(t *testing.T) {
	store, _, _, _ := setupCalendar(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, []domain.EarningsEvent{
		event("NVDA", "2026-06-02"),
		event("NVDA", "2026-09-02"),
		event("NVDA", "2026-12-02"),
	}))

	next, err := store.NextEvent(ctx, "NVDA", "2026-07-01")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "2026-09-02", next.ReportDate)

	none, err := store.NextEvent(ctx, "NVDA", "2027-01-01")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPrune(t *testing.T) {
	store, _, _, _ := setupCalendar(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, []domain.EarningsEvent{
		event("NVDA", "2025-06-02"),
		event("MSFT", "2025-07-20"),
		event("AAPL", "2026-09-02"),
	}))

	n, err := store.Prune(ctx, "2026-01-01")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	remaining, err := store.Window(ctx, "2025-01-01", "2027-01-01")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "AAPL", remaining[0].Ticker)

	_, err = store.Prune(ctx, "last tuesday")
	assert.Error(t, err)
}

func TestSyncConvertsVendorEntries(t *testing.T) {
	store, svc, vendor, mc := setupCalendar(t)
	ctx := context.Background()

	today := mc.Today()
	vendor.entries = []earningscal.CalendarEntry{
		{Ticker: "NVDA", ReportDate: addDays(today, 2)},
		{Ticker: "BRK-B", ReportDate: addDays(today, 3)}, // unusable symbol
		{Ticker: "MSFT", ReportDate: "soon"},             // unusable date
		{Ticker: "CRM", ReportDate: addDays(today, 4)},
	}

	n, err := svc.Sync(ctx, earningscal.Horizon3Month)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.Get(ctx, "NVDA", addDays(today, 2))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.TimingUnknown, got.Timing)
	assert.False(t, got.Confirmed)
	assert.Equal(t, vendorSourceID, got.SourceID)
}

func TestUpcomingCachesVendorSync(t *testing.T) {
	_, svc, vendor, mc := setupCalendar(t)
	ctx := context.Background()

	today := mc.Today()
	vendor.entries = []earningscal.CalendarEntry{
		{Ticker: "NVDA", ReportDate: addDays(today, 2)},
		{Ticker: "CRM", ReportDate: addDays(today, 9)}, // outside a 7-day window
	}

	events, err := svc.Upcoming(ctx, 7)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "NVDA", events[0].Ticker)
	assert.Equal(t, 1, vendor.calls)

	// A second read within the TTL never touches the vendor.
	_, err = svc.Upcoming(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, vendor.calls)
}

func TestUpcomingServesStaleOnVendorError(t *testing.T) {
	store, svc, vendor, mc := setupCalendar(t)
	ctx := context.Background()

	today := mc.Today()
	require.NoError(t, store.UpsertBatch(ctx, []domain.EarningsEvent{
		event("NVDA", addDays(today, 2)),
	}))
	vendor.err = errors.New("quota exhausted")

	events, err := svc.Upcoming(ctx, 7)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "NVDA", events[0].Ticker)
	assert.Equal(t, 1, vendor.calls)
}

func TestReportedWindow(t *testing.T) {
	store, svc, _, mc := setupCalendar(t)
	ctx := context.Background()

	today := mc.Today()
	require.NoError(t, store.UpsertBatch(ctx, []domain.EarningsEvent{
		event("OLD", addDays(today, -10)),
		event("NVDA", addDays(today, -1)),
		event("MSFT", today),
		event("CRM", addDays(today, 1)),
	}))

	events, err := svc.Reported(ctx, 7)
	require.NoError(t, err)

	require.Len(t, events, 2, "includes today, excludes the future and the distant past")
	assert.Equal(t, "NVDA", events[0].Ticker)
	assert.Equal(t, "MSFT", events[1].Ticker)
}

func TestNextEventRefreshesCalendar(t *testing.T) {
	_, svc, vendor, mc := setupCalendar(t)
	ctx := context.Background()

	date := addDays(mc.Today(), 5)
	vendor.entries = []earningscal.CalendarEntry{{Ticker: "NVDA", ReportDate: date}}

	next, err := svc.NextEvent(ctx, "nvda")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, date, next.ReportDate)
	assert.Equal(t, 1, vendor.calls)

	_, err = svc.NextEvent(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, 1, vendor.calls)
}
