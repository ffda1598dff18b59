// Package clock supplies the authoritative Eastern-time view of "now" and
// the US market calendar. Every time-of-day decision in the service (market
// open, budget rollover, "already reported today") goes through this one
// component so the scheduler, filters and ledger can never drift apart.
package clock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// MarketClock projects instants into US-Eastern and classifies trading days.
type MarketClock struct {
	loc *time.Location
	log zerolog.Logger

	mu          sync.Mutex
	warnedYears map[int]bool
}

// New loads the Eastern location. Failure to load the zone database is fatal
// to the caller; nothing in this service works without it.
func New(log zerolog.Logger) (*MarketClock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	return &MarketClock{
		loc:         loc,
		log:         log.With().Str("component", "clock").Logger(),
		warnedYears: make(map[int]bool),
	}, nil
}

// Location returns the Eastern location for schedulers that need it.
func (c *MarketClock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in UTC.
func (c *MarketClock) Now() time.Time {
	return time.Now().UTC()
}

// NowEastern returns the current instant projected into US-Eastern.
func (c *MarketClock) NowEastern() time.Time {
	return time.Now().In(c.loc)
}

// Today returns today's calendar date in US-Eastern as YYYY-MM-DD.
func (c *MarketClock) Today() string {
	return domain.FormatDate(c.NowEastern())
}

// IsNonTradingDay reports whether the given instant's Eastern calendar date
// is a weekend or a US market holiday.
func (c *MarketClock) IsNonTradingDay(t time.Time) bool {
	et := t.In(c.loc)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return true
	}
	return c.holidaySet(et.Year())[domain.FormatDate(et)]
}

// IsNonTradingDate is IsNonTradingDay for a YYYY-MM-DD date string. Invalid
// dates are reported as non-trading.
func (c *MarketClock) IsNonTradingDate(date string) bool {
	d, err := domain.ParseDate(date)
	if err != nil {
		return true
	}
	// Parse yields midnight UTC; rebuild at noon Eastern so the weekday is
	// the calendar date's own.
	et := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, c.loc)
	return c.IsNonTradingDay(et)
}

// NextTradingDay returns the first trading date strictly after the given
// Eastern date string.
func (c *MarketClock) NextTradingDay(date string) (string, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return "", err
	}
	cur := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, c.loc)
	for i := 0; i < 366; i++ {
		cur = cur.AddDate(0, 0, 1)
		if !c.IsNonTradingDay(cur) {
			return domain.FormatDate(cur), nil
		}
	}
	return "", domain.NewValidationError("date", "no trading day within a year")
}

// PreviousTradingDay returns the last trading date strictly before the given
// Eastern date string.
func (c *MarketClock) PreviousTradingDay(date string) (string, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return "", err
	}
	cur := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, c.loc)
	for i := 0; i < 366; i++ {
		cur = cur.AddDate(0, 0, -1)
		if !c.IsNonTradingDay(cur) {
			return domain.FormatDate(cur), nil
		}
	}
	return "", domain.NewValidationError("date", "no trading day within a year")
}

// IsMarketHours reports whether the instant falls inside the regular session
// (09:30-16:00 ET) on a trading day.
func (c *MarketClock) IsMarketHours(t time.Time) bool {
	if c.IsNonTradingDay(t) {
		return false
	}
	et := t.In(c.loc)
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// holidaySet returns the holiday dates for a year. Years outside the
// maintained table produce an empty set and a one-time warning; the market
// is then treated as fully open, which is the safer failure mode for a
// read-only analysis pipeline.
func (c *MarketClock) holidaySet(year int) map[string]bool {
	set, ok := marketHolidays[year]
	if !ok {
		c.mu.Lock()
		if !c.warnedYears[year] {
			c.warnedYears[year] = true
			c.log.Warn().
				Int("year", year).
				Msg("No holiday table for year, treating all weekdays as trading days")
		}
		c.mu.Unlock()
		return map[string]bool{}
	}
	return set
}
