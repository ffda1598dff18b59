// Package ivlog owns the iv_log table: an append-only record of every
// implied move the pipeline actually derived from a live chain. The rows
// feed the IV trend read (is the priced-in move expanding or draining ahead
// of the report) and give a paper trail for post-mortems.
package ivlog

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// DefaultTrendPeriod is the SMA window for trend reads.
const DefaultTrendPeriod = 5

// A latest reading within this fraction of its average counts as flat.
const trendFlatBand = 0.02

// Observation is one stored implied-move reading.
type Observation struct {
	ID              int64     `json:"id"`
	Ticker          string    `json:"ticker"`
	ObservedAt      time.Time `json:"observed_at"`
	Expiration      string    `json:"expiration"`
	ATMStrike       float64   `json:"atm_strike"`
	StraddleCost    float64   `json:"straddle_cost"`
	ImpliedMovePct  float64   `json:"implied_move_pct"`
	UnderlyingPrice float64   `json:"underlying_price"`
	Source          string    `json:"source"`
}

// FromImpliedMove builds an observation from a derived move. The chain, not
// the move, knows the spot price, so it is passed through.
func FromImpliedMove(move *domain.ImpliedMove, underlyingPrice float64, source string) Observation {
	return Observation{
		Ticker:          move.Ticker,
		Expiration:      move.Expiration,
		ATMStrike:       move.ATMStrike,
		StraddleCost:    move.StraddleCost,
		ImpliedMovePct:  move.ImpliedMovePct,
		UnderlyingPrice: underlyingPrice,
		Source:          source,
	}
}

// Store provides access to implied-move observations.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "ivlog").Logger(),
	}
}

// Record appends one observation. Rows are never updated.
func (s *Store) Record(ctx context.Context, obs Observation) error {
	ticker, err := domain.NormalizeTicker(obs.Ticker)
	if err != nil {
		return err
	}
	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO iv_log (
			ticker, observed_at, expiration, atm_strike,
			straddle_cost, implied_move_pct, underlying_price, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ticker, domain.FormatTime(observedAt), obs.Expiration, obs.ATMStrike,
		obs.StraddleCost, obs.ImpliedMovePct, obs.UnderlyingPrice, obs.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to record iv observation for %s: %w", ticker, err)
	}

	s.log.Debug().
		Str("ticker", ticker).
		Float64("implied_move_pct", obs.ImpliedMovePct).
		Msg("IV observation recorded")
	return nil
}

// Recent returns a ticker's observations, newest first.
func (s *Store) Recent(ctx context.Context, ticker string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, observed_at, expiration, atm_strike,
		       straddle_cost, implied_move_pct, underlying_price, source
		FROM iv_log
		WHERE ticker = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?
	`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query iv observations for %s: %w", ticker, err)
	}
	defer rows.Close()

	var result []Observation
	for rows.Next() {
		var obs Observation
		var observedAt string
		if err := rows.Scan(
			&obs.ID, &obs.Ticker, &observedAt, &obs.Expiration, &obs.ATMStrike,
			&obs.StraddleCost, &obs.ImpliedMovePct, &obs.UnderlyingPrice, &obs.Source,
		); err != nil {
			return nil, fmt.Errorf("failed to scan iv observation: %w", err)
		}
		if t, err := domain.ParseTime(observedAt); err == nil {
			obs.ObservedAt = t
		}
		result = append(result, obs)
	}
	return result, rows.Err()
}

// Prune deletes observations older than the cutoff, returning the count.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM iv_log WHERE observed_at < ?`, domain.FormatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune iv_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("rows", n).Msg("Old IV observations pruned")
	}
	return n, nil
}

// TrendDirection classifies how the implied move is drifting.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendFlat    TrendDirection = "flat"
)

// Trend summarizes a ticker's implied-move drift.
type Trend struct {
	Ticker       string         `json:"ticker"`
	Observations int            `json:"observations"`
	Latest       float64        `json:"latest"`
	SMA          float64        `json:"sma"`
	Direction    TrendDirection `json:"direction"`
}

// TrendFor compares the latest implied move against its simple moving
// average. ok is false when fewer than period observations exist. A latest
// reading above its average means the market is pricing a bigger move into
// the report than it recently did.
func (s *Store) TrendFor(ctx context.Context, ticker string, period int) (Trend, bool, error) {
	if period <= 0 {
		period = DefaultTrendPeriod
	}

	recent, err := s.Recent(ctx, ticker, period)
	if err != nil {
		return Trend{}, false, err
	}
	if len(recent) < period {
		return Trend{Ticker: ticker, Observations: len(recent)}, false, nil
	}

	// Oldest first for the moving average.
	values := make([]float64, len(recent))
	for i, obs := range recent {
		values[len(recent)-1-i] = obs.ImpliedMovePct
	}

	sma := talib.Sma(values, period)
	avg := sma[len(sma)-1]
	if avg != avg { // NaN
		return Trend{Ticker: ticker, Observations: len(recent)}, false, nil
	}

	trend := Trend{
		Ticker:       ticker,
		Observations: len(recent),
		Latest:       values[len(values)-1],
		SMA:          avg,
		Direction:    classifyTrend(values[len(values)-1], avg),
	}
	return trend, true, nil
}

func classifyTrend(latest, avg float64) TrendDirection {
	if avg == 0 {
		return TrendFlat
	}
	delta := (latest - avg) / avg
	switch {
	case delta > trendFlatBand:
		return TrendRising
	case delta < -trendFlatBand:
		return TrendFalling
	default:
		return TrendFlat
	}
}
