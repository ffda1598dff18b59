package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/scoring"
)

// MarketContext carries the VRP numbers recorded alongside a sentiment row
// so later accuracy queries can slice by setup quality.
type MarketContext struct {
	VRPRatio       *float64
	ImpliedMovePct *float64
}

// Service owns sentiment acquisition. Providers sit in an ordered list,
// highest priority first; Acquire walks the list under the budget gate and
// the first success wins. The paid provider is always gated by CanCall and
// followed by RecordCall.
type Service struct {
	providers []Provider
	store     *Store
	budget    *budget.Tracker
	log       zerolog.Logger
}

// NewService wires the acquisition chain. Provider order is priority order.
func NewService(store *Store, tracker *budget.Tracker, providers []Provider, log zerolog.Logger) *Service {
	return &Service{
		providers: providers,
		store:     store,
		budget:    tracker,
		log:       log.With().Str("component", "sentiment").Logger(),
	}
}

// Providers exposes the configured chain, for status reporting.
func (s *Service) Providers() []domain.SentimentSource {
	sources := make([]domain.SentimentSource, 0, len(s.providers))
	for _, p := range s.providers {
		sources = append(sources, p.Source())
	}
	return sources
}

// Acquire returns a sentiment read for (ticker, earningsDate): the hot cache
// if fresh, otherwise the first provider in the chain that produces one.
// Absence is not an error; (nil, nil) means every source declined.
func (s *Service) Acquire(ctx context.Context, ticker, earningsDate string, mkt MarketContext) (*domain.SentimentRecord, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseDate(earningsDate); err != nil {
		return nil, err
	}

	if hot := s.store.Hot(ctx, normalized, earningsDate); hot != nil {
		return hot, nil
	}

	for _, p := range s.providers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rec, err := s.fetchGated(ctx, p, normalized, earningsDate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, domain.ErrBudgetExhausted) {
				s.log.Info().
					Str("ticker", normalized).
					Msg("Budget refused paid sentiment, falling back")
			} else {
				s.log.Warn().Err(err).
					Str("source", string(p.Source())).
					Str("ticker", normalized).
					Msg("Sentiment provider failed, trying next")
			}
			continue
		}

		rec.VRPRatio = mkt.VRPRatio
		rec.ImpliedMovePct = mkt.ImpliedMovePct
		s.persist(ctx, rec)
		return rec, nil
	}

	return nil, nil
}

// Council fans every provider out in parallel and aggregates their votes.
// Used by the /council command; unlike Acquire it never consults the hot
// cache, because the point is a fresh multi-source read.
func (s *Service) Council(ctx context.Context, ticker, earningsDate string) (*domain.CouncilResult, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.CouncilRow, len(s.providers))
	var wg sync.WaitGroup
	for i, p := range s.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			row := domain.CouncilRow{Source: p.Source(), Direction: domain.DirectionNeutral}

			rec, err := s.fetchGated(ctx, p, normalized, earningsDate)
			if err != nil {
				row.Err = err.Error()
			} else {
				row.Direction = rec.Direction
				if rec.Score != nil {
					row.Score = *rec.Score
				}
				row.Summary = firstLine(rec.Text)
				s.persist(ctx, rec)
			}
			rows[i] = row
		}(i, p)
	}
	wg.Wait()

	result := &domain.CouncilResult{
		Ticker:       normalized,
		EarningsDate: earningsDate,
		Rows:         rows,
	}
	tallyCouncil(result)

	s.log.Info().
		Str("ticker", normalized).
		Str("consensus", string(result.Consensus)).
		Float64("confidence", result.Confidence).
		Msg("Council complete")

	return result, nil
}

// RecordManual stores an operator-supplied sentiment, e.g. from the alert
// webhook. Manual rows outrank every provider in the hot cache.
func (s *Service) RecordManual(ctx context.Context, ticker, earningsDate string, score float64, text string) (*domain.SentimentRecord, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseDate(earningsDate); err != nil {
		return nil, err
	}

	score = clampScore(score)
	rec := domain.SentimentRecord{
		Ticker:       normalized,
		EarningsDate: earningsDate,
		CollectedAt:  time.Now().UTC(),
		Source:       domain.SourceManual,
		Text:         text,
		Score:        &score,
		Direction:    directionFromScore(score),
	}
	if err := s.store.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record manual sentiment: %w", err)
	}

	s.log.Info().
		Str("ticker", normalized).
		Float64("score", score).
		Msg("Manual sentiment recorded")

	return &rec, nil
}

// fetchGated runs one provider with the paid-budget gate applied.
func (s *Service) fetchGated(ctx context.Context, p Provider, ticker, date string) (*domain.SentimentRecord, error) {
	paid := p.Source() == domain.SourcePaidAI
	if paid {
		verdict, err := s.budget.CanCall(ctx)
		if verdict == budget.VerdictExhausted {
			if err != nil {
				return nil, fmt.Errorf("budget check failed: %w", err)
			}
			return nil, domain.ErrBudgetExhausted
		}
	}

	rec, err := p.Fetch(ctx, ticker, date)
	if err != nil {
		return nil, err
	}

	if paid {
		if err := s.budget.RecordCall(ctx, s.budget.CostPerCall()); err != nil {
			s.log.Error().Err(err).Msg("Failed to record paid call in ledger")
		}
	}
	return rec, nil
}

// persist writes a record to both stores; failures are logged, not raised,
// because the read itself is still valid for the caller.
func (s *Service) persist(ctx context.Context, rec *domain.SentimentRecord) {
	if rec.EarningsDate == "" {
		return
	}
	if err := s.store.Record(ctx, *rec); err != nil {
		s.log.Error().Err(err).
			Str("ticker", rec.Ticker).
			Str("source", string(rec.Source)).
			Msg("Failed to persist sentiment")
	}
}

// tallyCouncil fills the consensus fields from the rows: majority direction
// (ties collapse to Neutral), average score, and agreement fraction.
func tallyCouncil(result *domain.CouncilResult) {
	counts := map[domain.Direction]int{}
	var sum float64
	voted := 0
	for _, row := range result.Rows {
		if row.Err != "" {
			continue
		}
		counts[row.Direction]++
		sum += row.Score
		voted++
	}

	result.Consensus = domain.DirectionNeutral
	if voted == 0 {
		result.SizeModifier = scoring.SizeModifier(0).Modifier
		return
	}

	best := 0
	for _, dir := range []domain.Direction{domain.DirectionBullish, domain.DirectionBearish, domain.DirectionNeutral} {
		if counts[dir] > best {
			best = counts[dir]
			result.Consensus = dir
		} else if counts[dir] == best && counts[dir] > 0 && result.Consensus != dir {
			// Tied top vote between different directions: no consensus.
			result.Consensus = domain.DirectionNeutral
		}
	}

	result.AvgScore = sum / float64(voted)
	result.Confidence = float64(best) / float64(voted)
	result.SizeModifier = scoring.SizeModifier(result.AvgScore).Modifier
}

func firstLine(text string) string {
	line := strings.TrimSpace(text)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if len(line) > 120 {
		line = line[:117] + "..."
	}
	return line
}
