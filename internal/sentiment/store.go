package sentiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// hotPreference orders sources for hot-cache reads. A human note outranks
// the paid model, which outranks free sources.
var hotPreference = []domain.SentimentSource{
	domain.SourceManual,
	domain.SourcePaidAI,
	domain.SourceWebSearch,
	domain.SourceVendorNews,
}

// Store is the sentiment cache + history component. The hot side lives in
// the KV cache under a short TTL; the history side is a permanent row per
// (ticker, earnings_date) whose outcome fields are written exactly once.
type Store struct {
	db  *database.DB
	kv  *cache.TwoTier
	ttl time.Duration
	log zerolog.Logger
}

func NewStore(db *database.DB, kv *cache.TwoTier, ttl time.Duration, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		kv:  kv,
		ttl: ttl,
		log: log.With().Str("component", "sentiment_store").Logger(),
	}
}

func hotKey(ticker, date string, source domain.SentimentSource) string {
	return fmt.Sprintf("sentiment:%s:%s:%s", ticker, date, source)
}

// Record writes one sentiment read to both stores: the hot cache under the
// source-specific key, and the permanent history row. History updates
// overwrite the pre-earnings fields only; outcome columns are never touched
// here.
func (s *Store) Record(ctx context.Context, rec domain.SentimentRecord) error {
	ticker, err := domain.NormalizeTicker(rec.Ticker)
	if err != nil {
		return err
	}
	if _, err := domain.ParseDate(rec.EarningsDate); err != nil {
		return fmt.Errorf("invalid earnings date %q: %w", rec.EarningsDate, err)
	}
	rec.Ticker = ticker
	if rec.CollectedAt.IsZero() {
		rec.CollectedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sentiment_history (
			ticker, earnings_date, collected_at, source, text,
			score, direction, vrp_ratio, implied_move_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, earnings_date) DO UPDATE SET
			collected_at = excluded.collected_at,
			source = excluded.source,
			text = excluded.text,
			score = excluded.score,
			direction = excluded.direction,
			vrp_ratio = excluded.vrp_ratio,
			implied_move_pct = excluded.implied_move_pct
	`
	_, err = s.db.ExecContext(ctx, query,
		ticker, rec.EarningsDate, domain.FormatTime(rec.CollectedAt), string(rec.Source), rec.Text,
		rec.Score, string(rec.Direction), rec.VRPRatio, rec.ImpliedMovePct,
	)
	if err != nil {
		return fmt.Errorf("failed to record sentiment %s/%s: %w", ticker, rec.EarningsDate, err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal sentiment record: %w", err)
	}
	s.kv.Set(hotKey(ticker, rec.EarningsDate, rec.Source), payload, s.ttl)

	s.log.Debug().
		Str("ticker", ticker).
		Str("earnings_date", rec.EarningsDate).
		Str("source", string(rec.Source)).
		Msg("Sentiment recorded")

	return nil
}

// Hot returns the freshest non-expired sentiment for a candidate, walking
// sources in preference order. A miss on every source returns nil.
func (s *Store) Hot(ctx context.Context, ticker, date string) *domain.SentimentRecord {
	for _, source := range hotPreference {
		raw, found := s.kv.Get(hotKey(ticker, date, source))
		if !found {
			continue
		}
		var rec domain.SentimentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Undecodable hot sentiment entry, skipping")
			continue
		}
		return &rec
	}
	return nil
}

// History returns the permanent row for a candidate, or nil when none.
func (s *Store) History(ctx context.Context, ticker, date string) (*domain.SentimentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticker, earnings_date, collected_at, source, text,
		       score, direction, vrp_ratio, implied_move_pct,
		       actual_move_pct, actual_direction, prediction_correct, trade_outcome
		FROM sentiment_history
		WHERE ticker = ? AND earnings_date = ?
	`, ticker, date)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sentiment history %s/%s: %w", ticker, date, err)
	}
	return rec, nil
}

// RecordOutcome fills the outcome columns for one prediction. It derives
// prediction_correct from the stored direction: a Bullish call is correct on
// an Up move, a Bearish call on a Down move, and Neutral or Unknown calls
// stay unscored. Rows whose outcome is already written are left alone; the
// return reports whether this call wrote it.
func (s *Store) RecordOutcome(ctx context.Context, ticker, date string, actualMovePct float64, actualDir domain.ActualDirection, outcome *domain.TradeOutcome) (bool, error) {
	var wrote bool

	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var direction string
		var existing sql.NullFloat64
		err := tx.QueryRowContext(ctx,
			`SELECT direction, actual_move_pct FROM sentiment_history WHERE ticker = ? AND earnings_date = ?`,
			ticker, date,
		).Scan(&direction, &existing)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if existing.Valid {
			return nil
		}

		var correct interface{}
		switch domain.Direction(direction) {
		case domain.DirectionBullish:
			correct = boolToInt(actualDir == domain.ActualUp)
		case domain.DirectionBearish:
			correct = boolToInt(actualDir == domain.ActualDown)
		}

		var outcomeVal interface{}
		if outcome != nil {
			outcomeVal = string(*outcome)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sentiment_history
			SET actual_move_pct = ?, actual_direction = ?, prediction_correct = ?, trade_outcome = ?
			WHERE ticker = ? AND earnings_date = ?
		`, actualMovePct, string(actualDir), correct, outcomeVal, ticker, date)
		if err != nil {
			return err
		}
		wrote = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record outcome %s/%s: %w", ticker, date, err)
	}

	if wrote {
		s.log.Info().
			Str("ticker", ticker).
			Str("earnings_date", date).
			Float64("actual_move_pct", actualMovePct).
			Str("actual_direction", string(actualDir)).
			Msg("Sentiment outcome recorded")
	}
	return wrote, nil
}

// MissingOutcomes lists history rows for one earnings date that still lack
// an outcome. The outcome recorder walks this list.
func (s *Store) MissingOutcomes(ctx context.Context, date string) ([]domain.SentimentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, earnings_date, collected_at, source, text,
		       score, direction, vrp_ratio, implied_move_pct,
		       actual_move_pct, actual_direction, prediction_correct, trade_outcome
		FROM sentiment_history
		WHERE earnings_date = ? AND actual_move_pct IS NULL
		ORDER BY ticker
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing outcomes: %w", err)
	}
	defer rows.Close()

	var result []domain.SentimentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

// DirectionAccuracy is hit-rate analytics for one predicted direction.
type DirectionAccuracy struct {
	Direction domain.Direction `json:"direction"`
	Total     int              `json:"total"`
	Correct   int              `json:"correct"`
}

// AccuracyByDirection aggregates scored predictions. Only rows with a
// derived prediction_correct participate.
func (s *Store) AccuracyByDirection(ctx context.Context) ([]DirectionAccuracy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT direction, COUNT(*), SUM(prediction_correct)
		FROM sentiment_history
		WHERE prediction_correct IS NOT NULL
		GROUP BY direction
		ORDER BY direction
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accuracy: %w", err)
	}
	defer rows.Close()

	var result []DirectionAccuracy
	for rows.Next() {
		var a DirectionAccuracy
		var dir string
		if err := rows.Scan(&dir, &a.Total, &a.Correct); err != nil {
			return nil, fmt.Errorf("failed to scan accuracy row: %w", err)
		}
		a.Direction = domain.Direction(dir)
		result = append(result, a)
	}
	return result, rows.Err()
}

// CountsBySource tallies history rows per sentiment source.
func (s *Store) CountsBySource(ctx context.Context) (map[domain.SentimentSource]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM sentiment_history GROUP BY source`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query source counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SentimentSource]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		counts[domain.SentimentSource(source)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.SentimentRecord, error) {
	var rec domain.SentimentRecord
	var collectedAt, source, direction string
	var score, vrpRatio, impliedMove, actualMove sql.NullFloat64
	var actualDir, tradeOutcome sql.NullString
	var correct sql.NullBool

	err := row.Scan(
		&rec.Ticker, &rec.EarningsDate, &collectedAt, &source, &rec.Text,
		&score, &direction, &vrpRatio, &impliedMove,
		&actualMove, &actualDir, &correct, &tradeOutcome,
	)
	if err != nil {
		return nil, err
	}

	if t, err := domain.ParseTime(collectedAt); err == nil {
		rec.CollectedAt = t
	}
	rec.Source = domain.SentimentSource(source)
	rec.Direction = domain.Direction(direction)

	if score.Valid {
		rec.Score = &score.Float64
	}
	if vrpRatio.Valid {
		rec.VRPRatio = &vrpRatio.Float64
	}
	if impliedMove.Valid {
		rec.ImpliedMovePct = &impliedMove.Float64
	}
	if actualMove.Valid {
		rec.ActualMovePct = &actualMove.Float64
	}
	if actualDir.Valid {
		d := domain.ActualDirection(actualDir.String)
		rec.ActualDirection = &d
	}
	if correct.Valid {
		rec.PredictionCorrect = &correct.Bool
	}
	if tradeOutcome.Valid {
		o := domain.TradeOutcome(tradeOutcome.String)
		rec.TradeOutcome = &o
	}

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
