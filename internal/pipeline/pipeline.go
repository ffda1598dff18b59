package pipeline

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/optionsdata"
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/liquidity"
	"github.com/pmak99/trading-desk-public-sub003/internal/scoring"
	"github.com/pmak99/trading-desk-public-sub003/internal/sentiment"
)

// Candidate is one (ticker, earnings date) pair entering the pipeline.
type Candidate struct {
	Ticker       string        `json:"ticker"`
	EarningsDate string        `json:"earnings_date"`
	Timing       domain.Timing `json:"timing"`
}

// CandidatesFromEvents converts calendar events into pipeline input.
func CandidatesFromEvents(events []domain.EarningsEvent) []Candidate {
	candidates := make([]Candidate, 0, len(events))
	for _, ev := range events {
		candidates = append(candidates, Candidate{
			Ticker:       ev.Ticker,
			EarningsDate: ev.ReportDate,
			Timing:       ev.Timing,
		})
	}
	return candidates
}

// Opportunity is one fully scored digest row.
type Opportunity struct {
	Ticker          string                     `json:"ticker"`
	EarningsDate    string                     `json:"earnings_date"`
	Timing          domain.Timing              `json:"timing"`
	VRP             domain.VRPResult           `json:"vrp"`
	ImpliedMovePct  float64                    `json:"implied_move_pct"`
	HistoricalMean  float64                    `json:"historical_mean"`
	UsedRealOptions bool                       `json:"used_real_options"`
	Consistency     float64                    `json:"consistency"`
	Liquidity       liquidity.Assessment       `json:"liquidity"`
	SkewValue       float64                    `json:"skew_value"`
	SkewBias        domain.SkewBias            `json:"skew_bias"`
	Sentiment       *domain.SentimentRecord    `json:"sentiment,omitempty"`
	Score           scoring.Score              `json:"score"`
	Direction       domain.DirectionAdjustment `json:"direction"`
	Size            scoring.SizeAdjustment     `json:"size"`
}

// Stats summarizes one Analyze run for job results and logs.
type Stats struct {
	Candidates    int      `json:"candidates"`
	Evaluated     int      `json:"evaluated"`
	PassedFloor   int      `json:"passed_floor"`
	Enriched      int      `json:"enriched"`
	VendorCalls   int      `json:"vendor_calls"`
	FailedTickers []string `json:"failed_tickers,omitempty"`
}

// Orchestrator runs candidates through evaluate, enrich, score, rank.
type Orchestrator struct {
	evaluator *Evaluator
	sentiment *sentiment.Service
	budget    *budget.Tracker
	liqCfg    config.LiquidityConfig
	scoreCfg  config.ScoringConfig
	cfg       config.PipelineConfig
	log       zerolog.Logger
}

func NewOrchestrator(
	evaluator *Evaluator,
	sentimentSvc *sentiment.Service,
	tracker *budget.Tracker,
	liqCfg config.LiquidityConfig,
	scoreCfg config.ScoringConfig,
	cfg config.PipelineConfig,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		evaluator: evaluator,
		sentiment: sentimentSvc,
		budget:    tracker,
		liqCfg:    liqCfg,
		scoreCfg:  scoreCfg,
		cfg:       cfg,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Evaluator exposes the shared evaluator for jobs that only need VRP reads.
func (o *Orchestrator) Evaluator() *Evaluator {
	return o.evaluator
}

// Analyze produces the ranked opportunity list for a candidate set.
// Per-ticker failures land in Stats.FailedTickers and never abort the run;
// only cancellation does.
func (o *Orchestrator) Analyze(ctx context.Context, candidates []Candidate) ([]Opportunity, Stats, error) {
	stats := Stats{Candidates: len(candidates)}
	pacer := NewCallPacer(o.cfg.RateLimitTickEvery)

	type evaluated struct {
		cand Candidate
		eval *Evaluation
	}
	var pool []evaluated

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}

		eval, err := o.evaluator.EvaluateVRP(ctx, cand.Ticker, cand.EarningsDate, pacer)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			o.log.Warn().Err(err).Str("ticker", cand.Ticker).Msg("Candidate evaluation failed")
			stats.FailedTickers = append(stats.FailedTickers, cand.Ticker)
			continue
		}
		if eval == nil {
			continue
		}
		stats.Evaluated++

		if eval.VRP.Ratio < o.cfg.RatioFloor {
			continue
		}
		stats.PassedFloor++
		pool = append(pool, evaluated{cand, eval})
	}

	// Sentiment is scarce: only the strongest VRP reads get enriched, and
	// no more of them than the paid budget has room for.
	sort.Slice(pool, func(i, j int) bool {
		return pool[i].eval.VRP.Ratio > pool[j].eval.VRP.Ratio
	})
	k := o.enrichmentQuota(ctx)
	if k > len(pool) {
		k = len(pool)
	}

	opportunities := make([]Opportunity, 0, len(pool))
	for i, item := range pool {
		var rec *domain.SentimentRecord
		if i < k {
			var err error
			rec, err = o.sentiment.Acquire(ctx, item.cand.Ticker, item.cand.EarningsDate, sentiment.MarketContext{
				VRPRatio:       &item.eval.VRP.Ratio,
				ImpliedMovePct: &item.eval.ImpliedMovePct,
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, stats, ctx.Err()
				}
				o.log.Warn().Err(err).Str("ticker", item.cand.Ticker).Msg("Sentiment enrichment failed")
			}
			if rec != nil {
				stats.Enriched++
			}
		}
		opportunities = append(opportunities, o.assemble(item.cand, item.eval, rec))
	}

	sortOpportunities(opportunities)
	if o.cfg.MaxDigestSize > 0 && len(opportunities) > o.cfg.MaxDigestSize {
		opportunities = opportunities[:o.cfg.MaxDigestSize]
	}

	stats.VendorCalls = pacer.Calls()
	o.log.Info().
		Int("candidates", stats.Candidates).
		Int("evaluated", stats.Evaluated).
		Int("passed_floor", stats.PassedFloor).
		Int("enriched", stats.Enriched).
		Int("ranked", len(opportunities)).
		Msg("Pipeline run complete")

	return opportunities, stats, nil
}

// enrichmentQuota returns how many candidates may be enriched this run: the
// remaining paid budget, capped by config. A ledger read failure means no
// quota, same as the budget's own fail-closed rule.
func (o *Orchestrator) enrichmentQuota(ctx context.Context) int {
	status, err := o.budget.Status(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("Budget unreadable, skipping sentiment enrichment")
		return 0
	}

	remaining := status.DailyCeiling - status.CallsToday
	if remaining < 0 {
		remaining = 0
	}
	if o.cfg.MaxSentimentPerRun > 0 && remaining > o.cfg.MaxSentimentPerRun {
		remaining = o.cfg.MaxSentimentPerRun
	}
	return remaining
}

// assemble scores one evaluated candidate. Without a chain the liquidity
// read is a straight reject: a position we cannot see the book for is not
// tradeable.
func (o *Orchestrator) assemble(cand Candidate, eval *Evaluation, rec *domain.SentimentRecord) Opportunity {
	liq := liquidity.Assessment{
		Tier:       domain.LiquidityReject,
		OITier:     domain.LiquidityReject,
		VolumeTier: domain.LiquidityReject,
		SpreadTier: domain.LiquidityReject,
	}
	skew := 0.0
	if eval.Chain != nil && eval.Move != nil {
		if call, put, err := optionsdata.ATMStraddle(eval.Chain); err == nil {
			liq = liquidity.GradeStraddle(o.liqCfg, call, put)
		}
		skew = optionsdata.SkewValue(eval.Move)
	}
	bias := scoring.BiasFromSkew(skew)

	sentimentScore := 0.0
	if rec != nil && rec.Score != nil {
		sentimentScore = *rec.Score
	}

	return Opportunity{
		Ticker:          eval.Ticker,
		EarningsDate:    eval.EarningsDate,
		Timing:          cand.Timing,
		VRP:             eval.VRP,
		ImpliedMovePct:  eval.ImpliedMovePct,
		HistoricalMean:  eval.HistoricalMean,
		UsedRealOptions: eval.UsedRealOptions,
		Consistency:     eval.Consistency,
		Liquidity:       liq,
		SkewValue:       skew,
		SkewBias:        bias,
		Sentiment:       rec,
		Score: scoring.Composite(o.scoreCfg, scoring.Inputs{
			VRPRatio:      eval.VRP.Ratio,
			Consistency:   eval.Consistency,
			LiquidityTier: liq.Tier,
			SkewValue:     skew,
		}),
		Direction: scoring.AdjustDirection(bias, sentimentScore),
		Size:      scoring.SizeModifier(sentimentScore),
	}
}

// sortOpportunities orders the digest: best score first, earlier report
// dates break ties, ticker breaks the rest.
func sortOpportunities(opportunities []Opportunity) {
	sort.Slice(opportunities, func(i, j int) bool {
		a, b := opportunities[i], opportunities[j]
		if a.Score.Composite != b.Score.Composite {
			return a.Score.Composite > b.Score.Composite
		}
		if a.EarningsDate != b.EarningsDate {
			return a.EarningsDate < b.EarningsDate
		}
		return a.Ticker < b.Ticker
	})
}
