// Package budget enforces the paid-sentiment spend ceilings. Every
// Anthropic call is checked against a per-day call ceiling and a
// per-calendar-month dollar ceiling before it is made, and recorded in the
// api_budget ledger after it completes. The check is advisory rather than a
// reservation: two concurrent calls can both pass at ceiling minus one, which
// is acceptable drift for a single-digit daily quota.
package budget

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/clock"
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Verdict is the answer to "may we spend money right now".
type Verdict string

const (
	VerdictOk        Verdict = "ok"
	VerdictWarn      Verdict = "warn"      // At or past 80% of either ceiling
	VerdictExhausted Verdict = "exhausted" // At or past a ceiling, or ledger unreadable
)

const warnFraction = 0.8

// Tracker keeps the spend ledger. The budget day follows the Eastern
// calendar so the quota resets with the trading day, not UTC midnight.
type Tracker struct {
	db    *database.DB
	cfg   config.BudgetConfig
	clock *clock.MarketClock
	log   zerolog.Logger
}

func NewTracker(db *database.DB, cfg config.BudgetConfig, mc *clock.MarketClock, log zerolog.Logger) *Tracker {
	return &Tracker{
		db:    db,
		cfg:   cfg,
		clock: mc,
		log:   log.With().Str("component", "budget").Logger(),
	}
}

// Status is the ledger position for one Eastern day plus its month.
type Status struct {
	Date           string  `json:"date"`
	CallsToday     int     `json:"calls_today"`
	DailyCeiling   int     `json:"daily_ceiling"`
	MonthCost      float64 `json:"month_cost"`
	MonthlyCeiling float64 `json:"monthly_ceiling"`
	Verdict        Verdict `json:"verdict"`
}

// CanCall reports whether a paid call may proceed. Any ledger read failure
// yields VerdictExhausted: when we cannot prove budget remains, we spend
// nothing.
func (t *Tracker) CanCall(ctx context.Context) (Verdict, error) {
	status, err := t.Status(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("Budget ledger unreadable, refusing paid call")
		return VerdictExhausted, fmt.Errorf("reading budget ledger: %w", err)
	}
	if status.Verdict == VerdictWarn {
		t.log.Warn().
			Int("calls_today", status.CallsToday).
			Float64("month_cost", status.MonthCost).
			Msg("Budget above 80% of a ceiling")
	}
	return status.Verdict, nil
}

// RecordCall adds one call at the given cost to today's ledger row.
func (t *Tracker) RecordCall(ctx context.Context, cost float64) error {
	today := t.clock.Today()
	now := domain.FormatTime(t.clock.Now())

	err := database.WithTransaction(t.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO api_budget (date, calls, cost, last_updated) VALUES (?, 0, 0.0, ?)`,
			today, now,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE api_budget SET calls = calls + 1, cost = cost + ?, last_updated = ? WHERE date = ?`,
			cost, now, today,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("recording budget call: %w", err)
	}

	t.log.Debug().Str("date", today).Float64("cost", cost).Msg("Recorded paid call")
	return nil
}

// Status reads the current day and month position. The month total is the
// sum over every day sharing today's YYYY-MM prefix.
func (t *Tracker) Status(ctx context.Context) (Status, error) {
	today := t.clock.Today()

	var calls int
	err := t.db.QueryRowContext(ctx,
		`SELECT calls FROM api_budget WHERE date = ?`, today,
	).Scan(&calls)
	if err == sql.ErrNoRows {
		calls = 0
	} else if err != nil {
		return Status{}, fmt.Errorf("reading daily calls: %w", err)
	}

	var monthCost float64
	monthPrefix := today[:7] + "-%"
	err = t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0.0) FROM api_budget WHERE date LIKE ?`, monthPrefix,
	).Scan(&monthCost)
	if err != nil {
		return Status{}, fmt.Errorf("reading month cost: %w", err)
	}

	s := Status{
		Date:           today,
		CallsToday:     calls,
		DailyCeiling:   t.cfg.DailyCallCeiling,
		MonthCost:      monthCost,
		MonthlyCeiling: t.cfg.MonthlyCostCeiling,
		Verdict:        VerdictOk,
	}

	switch {
	case calls >= t.cfg.DailyCallCeiling || monthCost >= t.cfg.MonthlyCostCeiling:
		s.Verdict = VerdictExhausted
	case float64(calls) >= warnFraction*float64(t.cfg.DailyCallCeiling) ||
		monthCost >= warnFraction*t.cfg.MonthlyCostCeiling:
		s.Verdict = VerdictWarn
	}

	return s, nil
}

// CostPerCall exposes the configured flat cost so callers record honestly.
func (t *Tracker) CostPerCall() float64 {
	return t.cfg.CostPerCall
}
