// Package earnings owns the earnings_calendar table and the vendor-backed
// calendar service. The calendar vendor's free tier allows roughly 25 calls
// a day, so reads go through a 24-hour cache and fall back to whatever the
// table already holds when the vendor refuses.
package earnings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Store provides access to the earnings calendar rows.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "earnings").Logger(),
	}
}

// Upsert writes one calendar event. A re-sync of an existing
// (ticker, report_date) row only ever moves the timing, confirmation and
// source fields.
func (s *Store) Upsert(ctx context.Context, ev domain.EarningsEvent) error {
	ticker, err := domain.NormalizeTicker(ev.Ticker)
	if err != nil {
		return err
	}
	if _, err := domain.ParseDate(ev.ReportDate); err != nil {
		return fmt.Errorf("invalid report date %q: %w", ev.ReportDate, err)
	}

	timing := ev.Timing
	if timing == "" {
		timing = domain.TimingUnknown
	}
	now := domain.FormatTime(time.Now())

	query := `
		INSERT INTO earnings_calendar (
			ticker, report_date, timing, confirmed, source_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, report_date) DO UPDATE SET
			timing = excluded.timing,
			confirmed = excluded.confirmed,
			source_id = excluded.source_id,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		ticker, ev.ReportDate, string(timing), boolToInt(ev.Confirmed), ev.SourceID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert calendar event %s/%s: %w", ticker, ev.ReportDate, err)
	}
	return nil
}

// UpsertBatch writes a full vendor sync in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, events []domain.EarningsEvent) error {
	if len(events) == 0 {
		return nil
	}

	now := domain.FormatTime(time.Now())

	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO earnings_calendar (
				ticker, report_date, timing, confirmed, source_id, updated_at
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker, report_date) DO UPDATE SET
				timing = excluded.timing,
				confirmed = excluded.confirmed,
				source_id = excluded.source_id,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, ev := range events {
			ticker, err := domain.NormalizeTicker(ev.Ticker)
			if err != nil {
				return err
			}
			if _, err := domain.ParseDate(ev.ReportDate); err != nil {
				return fmt.Errorf("invalid report date %q: %w", ev.ReportDate, err)
			}
			timing := ev.Timing
			if timing == "" {
				timing = domain.TimingUnknown
			}
			if _, err := stmt.ExecContext(ctx,
				ticker, ev.ReportDate, string(timing), boolToInt(ev.Confirmed), ev.SourceID, now,
			); err != nil {
				return fmt.Errorf("failed to upsert calendar event %s/%s: %w", ticker, ev.ReportDate, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Int("count", len(events)).Msg("Calendar batch upserted")
	return nil
}

// Get returns one event, or nil when the pair is not on the calendar.
func (s *Store) Get(ctx context.Context, ticker, reportDate string) (*domain.EarningsEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticker, report_date, timing, confirmed, source_id, updated_at
		FROM earnings_calendar
		WHERE ticker = ? AND report_date = ?
	`, ticker, reportDate)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar event %s/%s: %w", ticker, reportDate, err)
	}
	return ev, nil
}

// Window returns events with from <= report_date < to, ordered by date then
// ticker.
func (s *Store) Window(ctx context.Context, from, to string) ([]domain.EarningsEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, report_date, timing, confirmed, source_id, updated_at
		FROM earnings_calendar
		WHERE report_date >= ? AND report_date < ?
		ORDER BY report_date ASC, ticker ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar window [%s, %s): %w", from, to, err)
	}
	defer rows.Close()

	var events []domain.EarningsEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar row: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// NextEvent returns a ticker's earliest event on or after the given date, or
// nil when none is scheduled.
func (s *Store) NextEvent(ctx context.Context, ticker, from string) (*domain.EarningsEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticker, report_date, timing, confirmed, source_id, updated_at
		FROM earnings_calendar
		WHERE ticker = ? AND report_date >= ?
		ORDER BY report_date ASC
		LIMIT 1
	`, ticker, from)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read next event for %s: %w", ticker, err)
	}
	return ev, nil
}

// Prune deletes calendar rows older than the cutoff date. Past events have
// served their purpose once outcomes are recorded.
func (s *Store) Prune(ctx context.Context, before string) (int64, error) {
	if _, err := domain.ParseDate(before); err != nil {
		return 0, fmt.Errorf("invalid cutoff date %q: %w", before, err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM earnings_calendar WHERE report_date < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune calendar: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("rows", n).Str("before", before).Msg("Old calendar rows pruned")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*domain.EarningsEvent, error) {
	var ev domain.EarningsEvent
	var timing string
	var confirmed int
	var updatedAt string
	if err := row.Scan(&ev.Ticker, &ev.ReportDate, &timing, &confirmed, &ev.SourceID, &updatedAt); err != nil {
		return nil, err
	}
	ev.Timing = domain.Timing(timing)
	ev.Confirmed = confirmed != 0
	if t, err := domain.ParseTime(updatedAt); err == nil {
		ev.UpdatedAt = t
	}
	return &ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
