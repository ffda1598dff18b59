// Package moves owns the historical_moves table: one row per (ticker,
// earnings date) describing how the stock actually reacted. The distinct
// tickers of this table form the tracked universe, the whitelist every job
// filters against, because a ticker with recorded history is the only kind we
// can analyze end to end.
package moves

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// DefaultMinMoves is the observation floor below which a ticker has no usable
// move distribution.
const DefaultMinMoves = 4

// Store provides access to historical earnings moves.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "moves").Logger(),
	}
}

// Upsert writes one move, replacing any existing row for the same
// (ticker, earnings_date). The original created_at survives updates.
func (s *Store) Upsert(ctx context.Context, m domain.HistoricalMove) error {
	ticker, err := domain.NormalizeTicker(m.Ticker)
	if err != nil {
		return err
	}
	if _, err := domain.ParseDate(m.EarningsDate); err != nil {
		return fmt.Errorf("invalid earnings date %q: %w", m.EarningsDate, err)
	}

	now := domain.FormatTime(time.Now())

	query := `
		INSERT INTO historical_moves (
			ticker, earnings_date, prev_close,
			reaction_open, reaction_high, reaction_low, reaction_close,
			gap_move_pct, intraday_move_pct, close_move_pct,
			volume_before, volume_reaction, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, earnings_date) DO UPDATE SET
			prev_close = excluded.prev_close,
			reaction_open = excluded.reaction_open,
			reaction_high = excluded.reaction_high,
			reaction_low = excluded.reaction_low,
			reaction_close = excluded.reaction_close,
			gap_move_pct = excluded.gap_move_pct,
			intraday_move_pct = excluded.intraday_move_pct,
			close_move_pct = excluded.close_move_pct,
			volume_before = excluded.volume_before,
			volume_reaction = excluded.volume_reaction,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		ticker, m.EarningsDate, m.PrevClose,
		m.ReactionOpen, m.ReactionHigh, m.ReactionLow, m.ReactionClose,
		m.GapMovePct, m.IntradayMovePct, m.CloseMovePct,
		m.VolumeBefore, m.VolumeReaction, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert move %s/%s: %w", ticker, m.EarningsDate, err)
	}

	s.log.Debug().
		Str("ticker", ticker).
		Str("earnings_date", m.EarningsDate).
		Float64("intraday_move_pct", m.IntradayMovePct).
		Msg("Historical move upserted")

	return nil
}

// UpsertBatch writes several moves in one transaction. Backfill uses this so
// a partial vendor response never leaves a half-written batch.
func (s *Store) UpsertBatch(ctx context.Context, batch []domain.HistoricalMove) error {
	if len(batch) == 0 {
		return nil
	}

	now := domain.FormatTime(time.Now())

	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO historical_moves (
				ticker, earnings_date, prev_close,
				reaction_open, reaction_high, reaction_low, reaction_close,
				gap_move_pct, intraday_move_pct, close_move_pct,
				volume_before, volume_reaction, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker, earnings_date) DO UPDATE SET
				prev_close = excluded.prev_close,
				reaction_open = excluded.reaction_open,
				reaction_high = excluded.reaction_high,
				reaction_low = excluded.reaction_low,
				reaction_close = excluded.reaction_close,
				gap_move_pct = excluded.gap_move_pct,
				intraday_move_pct = excluded.intraday_move_pct,
				close_move_pct = excluded.close_move_pct,
				volume_before = excluded.volume_before,
				volume_reaction = excluded.volume_reaction,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range batch {
			ticker, err := domain.NormalizeTicker(m.Ticker)
			if err != nil {
				return err
			}
			if _, err := domain.ParseDate(m.EarningsDate); err != nil {
				return fmt.Errorf("invalid earnings date %q: %w", m.EarningsDate, err)
			}
			if _, err := stmt.ExecContext(ctx,
				ticker, m.EarningsDate, m.PrevClose,
				m.ReactionOpen, m.ReactionHigh, m.ReactionLow, m.ReactionClose,
				m.GapMovePct, m.IntradayMovePct, m.CloseMovePct,
				m.VolumeBefore, m.VolumeReaction, now, now,
			); err != nil {
				return fmt.Errorf("failed to upsert move %s/%s: %w", ticker, m.EarningsDate, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Int("count", len(batch)).Msg("Historical move batch upserted")
	return nil
}

// Moves returns a ticker's history, newest first.
func (s *Store) Moves(ctx context.Context, ticker string) ([]domain.HistoricalMove, error) {
	query := `
		SELECT ticker, earnings_date, prev_close,
		       reaction_open, reaction_high, reaction_low, reaction_close,
		       gap_move_pct, intraday_move_pct, close_move_pct,
		       volume_before, volume_reaction
		FROM historical_moves
		WHERE ticker = ?
		ORDER BY earnings_date DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query moves for %s: %w", ticker, err)
	}
	defer rows.Close()

	var result []domain.HistoricalMove
	for rows.Next() {
		var m domain.HistoricalMove
		if err := rows.Scan(
			&m.Ticker, &m.EarningsDate, &m.PrevClose,
			&m.ReactionOpen, &m.ReactionHigh, &m.ReactionLow, &m.ReactionClose,
			&m.GapMovePct, &m.IntradayMovePct, &m.CloseMovePct,
			&m.VolumeBefore, &m.VolumeReaction,
		); err != nil {
			return nil, fmt.Errorf("failed to scan move row: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// AverageIntradayMove returns the mean of |intraday_move_pct| for a ticker,
// or ok=false when fewer than minCount observations exist.
func (s *Store) AverageIntradayMove(ctx context.Context, ticker string, minCount int) (float64, bool, error) {
	if minCount <= 0 {
		minCount = DefaultMinMoves
	}

	absMoves, err := s.AbsMoves(ctx, ticker)
	if err != nil {
		return 0, false, err
	}
	if len(absMoves) < minCount {
		return 0, false, nil
	}
	return stat.Mean(absMoves, nil), true, nil
}

// MoveStats summarizes a ticker's move distribution for scoring and display.
type MoveStats struct {
	Ticker      string  `json:"ticker"`
	Count       int     `json:"count"`
	MeanAbsMove float64 `json:"mean_abs_move"`
	StdDev      float64 `json:"std_dev"`
	MaxAbsMove  float64 `json:"max_abs_move"`
	Consistency float64 `json:"consistency"`
}

// Stats computes distribution statistics over |intraday_move_pct|.
// Consistency is 1 - min(1, stddev/mean): 1 means every quarter moved the
// same amount, 0 means the spread swamps the mean. Fewer than two
// observations, or a zero mean, give consistency 0.
func (s *Store) Stats(ctx context.Context, ticker string) (MoveStats, error) {
	absMoves, err := s.AbsMoves(ctx, ticker)
	if err != nil {
		return MoveStats{}, err
	}

	ms := MoveStats{Ticker: ticker, Count: len(absMoves)}
	if len(absMoves) == 0 {
		return ms, nil
	}

	ms.MeanAbsMove = stat.Mean(absMoves, nil)
	for _, v := range absMoves {
		if v > ms.MaxAbsMove {
			ms.MaxAbsMove = v
		}
	}

	if len(absMoves) >= 2 && ms.MeanAbsMove > 0 {
		ms.StdDev = stat.StdDev(absMoves, nil)
		ms.Consistency = Consistency(absMoves)
	}

	return ms, nil
}

// Consistency measures how tightly a move distribution clusters around its
// mean: 1 - min(1, stddev/mean). Fewer than two observations or a zero mean
// give 0.
func Consistency(absMoves []float64) float64 {
	if len(absMoves) < 2 {
		return 0
	}
	mean := stat.Mean(absMoves, nil)
	if mean <= 0 {
		return 0
	}
	return 1 - math.Min(1, stat.StdDev(absMoves, nil)/mean)
}

// TrackedUniverse returns the set of tickers with any recorded history.
func (s *Store) TrackedUniverse(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM historical_moves`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked universe: %w", err)
	}
	defer rows.Close()

	universe := make(map[string]bool)
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		universe[ticker] = true
	}
	return universe, rows.Err()
}

// AbsMoves returns the |intraday_move_pct| series for a ticker, newest
// first. This is the raw distribution the VRP evaluation runs against.
func (s *Store) AbsMoves(ctx context.Context, ticker string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT intraday_move_pct FROM historical_moves WHERE ticker = ? ORDER BY earnings_date DESC`,
		ticker,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query intraday moves for %s: %w", ticker, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan intraday move: %w", err)
		}
		values = append(values, math.Abs(v))
	}
	return values, rows.Err()
}
