package earnings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/earningscal"
	"github.com/pmak99/trading-desk-public-sub003/internal/clock"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// SourceID written on rows synced from the calendar vendor.
const vendorSourceID = "earningscal"

// DefaultCalendarTTL is how long one vendor sync stays fresh. The free tier
// allows ~25 calls a day across all endpoints, so the full calendar is
// fetched at most once per day outside explicit syncs.
const DefaultCalendarTTL = 24 * time.Hour

// CalendarVendor is the earnings-calendar dependency.
type CalendarVendor interface {
	GetEarningsCalendar(ctx context.Context, horizon earningscal.Horizon) ([]earningscal.CalendarEntry, error)
}

// Service serves calendar reads through the freshness cache and falls back
// to stored rows when the vendor is unavailable.
type Service struct {
	vendor CalendarVendor
	store  *Store
	kv     *cache.TwoTier
	mc     *clock.MarketClock
	ttl    time.Duration
	log    zerolog.Logger
}

func NewService(vendor CalendarVendor, store *Store, kv *cache.TwoTier, mc *clock.MarketClock, ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCalendarTTL
	}
	return &Service{
		vendor: vendor,
		store:  store,
		kv:     kv,
		mc:     mc,
		ttl:    ttl,
		log:    log.With().Str("component", "earnings").Logger(),
	}
}

// Sync fetches the vendor calendar and rewrites the stored rows. It always
// spends a vendor call; scheduled refreshes and operator commands use it,
// everything else goes through Upcoming's cached path. Returns the number of
// events written.
func (s *Service) Sync(ctx context.Context, horizon earningscal.Horizon) (int, error) {
	entries, err := s.vendor.GetEarningsCalendar(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("calendar sync failed: %w", err)
	}

	events, skipped := convertEntries(entries)
	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Msg("Calendar entries with unusable symbols skipped")
	}
	if err := s.store.UpsertBatch(ctx, events); err != nil {
		return 0, err
	}

	s.markFresh(horizon, events)
	s.log.Info().
		Str("horizon", string(horizon)).
		Int("events", len(events)).
		Msg("Calendar synced")
	return len(events), nil
}

// Upcoming returns calendar events in [today, today+days), syncing from the
// vendor first when the cached calendar has gone stale. A vendor failure is
// logged and the read is served from whatever rows the last good sync left
// behind.
func (s *Service) Upcoming(ctx context.Context, days int) ([]domain.EarningsEvent, error) {
	if days <= 0 {
		days = 7
	}
	s.ensureFresh(ctx)

	from := s.mc.Today()
	to := addDays(from, days)
	return s.store.Window(ctx, from, to)
}

// Reported returns events whose report date already passed, in
// [today-days, today]. Today is included because BMO reports are done by
// the time the after-hours jobs run. Past rows never go stale, so this
// never touches the vendor.
func (s *Service) Reported(ctx context.Context, days int) ([]domain.EarningsEvent, error) {
	if days <= 0 {
		days = 7
	}
	today := s.mc.Today()
	return s.store.Window(ctx, addDays(today, -days), addDays(today, 1))
}

// NextEvent returns the ticker's next scheduled report, or nil when none is
// on the calendar.
func (s *Service) NextEvent(ctx context.Context, ticker string) (*domain.EarningsEvent, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	s.ensureFresh(ctx)
	return s.store.NextEvent(ctx, normalized, s.mc.Today())
}

// ensureFresh syncs from the vendor when the freshness marker has expired.
// A failed refresh serves the stored rows; the error is logged, not
// returned.
func (s *Service) ensureFresh(ctx context.Context) {
	if _, ok := s.kv.Get(calendarKey(earningscal.Horizon3Month)); ok {
		return
	}
	if _, err := s.Sync(ctx, earningscal.Horizon3Month); err != nil {
		s.log.Warn().Err(err).Msg("Calendar refresh failed, serving stored rows")
	}
}

// markFresh records a successful sync in the cache. The payload doubles as
// a debugging artifact; freshness is carried by the key's TTL.
func (s *Service) markFresh(horizon earningscal.Horizon, events []domain.EarningsEvent) {
	payload, err := json.Marshal(events)
	if err != nil {
		return
	}
	s.kv.Set(calendarKey(horizon), payload, s.ttl)
}

func calendarKey(horizon earningscal.Horizon) string {
	return "earnings:calendar:" + string(horizon)
}

// convertEntries maps vendor rows to calendar events. The vendor's CSV says
// nothing about session timing or confirmation, so events arrive as
// unconfirmed TimingUnknown. Symbols that fail normalization (units,
// warrants, foreign listings) are skipped, not fatal.
func convertEntries(entries []earningscal.CalendarEntry) ([]domain.EarningsEvent, int) {
	events := make([]domain.EarningsEvent, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		ticker, err := domain.NormalizeTicker(e.Ticker)
		if err != nil {
			skipped++
			continue
		}
		if _, err := domain.ParseDate(e.ReportDate); err != nil {
			skipped++
			continue
		}
		events = append(events, domain.EarningsEvent{
			Ticker:     ticker,
			ReportDate: e.ReportDate,
			Timing:     domain.TimingUnknown,
			Confirmed:  false,
			SourceID:   vendorSourceID,
		})
	}
	return events, skipped
}

func addDays(date string, days int) string {
	t, err := domain.ParseDate(date)
	if err != nil {
		return date
	}
	return domain.FormatDate(t.AddDate(0, 0, days))
}
