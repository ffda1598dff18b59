package jobs

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pmak99/trading-desk-public-sub003/internal/clients/earningscal"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
)

// CalendarSync refreshes the earnings calendar from the vendor. Runs every
// day: weekend syncs pick up confirmations published after Friday's close.
func (r *Runner) CalendarSync(ctx context.Context) Result {
	return r.run(ctx, JobCalendarSync, false, func(ctx context.Context, res *Result) error {
		n, err := r.calendar.Sync(ctx, earningscal.Horizon3Month)
		if err != nil {
			return err
		}
		res.Counts["events"] = n
		return nil
	})
}

// PreMarketPrep evaluates VRP for every tracked ticker reporting today or
// in the next three days and caches the evaluations for the rest of the
// day's jobs.
func (r *Runner) PreMarketPrep(ctx context.Context) Result {
	return r.run(ctx, JobPreMarketPrep, true, func(ctx context.Context, res *Result) error {
		candidates, err := r.trackedCandidates(ctx, res, prepWindowDays)
		if err != nil || len(candidates) == 0 {
			return err
		}

		evaluator := r.pipeline.Evaluator()
		pacer := pipeline.NewCallPacer(r.cfg.RateLimitTickEvery)
		for _, cand := range candidates {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			eval, err := evaluator.EvaluateVRP(ctx, cand.Ticker, cand.EarningsDate, pacer)
			if err != nil {
				r.log.Warn().Err(err).Str("ticker", cand.Ticker).Msg("VRP snapshot failed")
				res.FailedTickers = append(res.FailedTickers, cand.Ticker)
				continue
			}
			if eval == nil {
				continue
			}
			res.Counts["evaluated"]++

			payload, err := json.Marshal(eval)
			if err != nil {
				continue
			}
			r.kv.Set(snapshotKey(cand.Ticker, cand.EarningsDate), payload, snapshotTTL)
			res.Counts["snapshots"]++
		}
		res.Counts["vendor_calls"] = pacer.Calls()
		return nil
	})
}

// SentimentScan runs the full pipeline over the upcoming window for its
// side effect: the strongest VRP candidates get their sentiment fetched and
// cached while the paid budget is freshest. The ranked output is discarded.
func (r *Runner) SentimentScan(ctx context.Context) Result {
	return r.run(ctx, JobSentimentScan, true, func(ctx context.Context, res *Result) error {
		candidates, err := r.trackedCandidates(ctx, res, digestWindowDays)
		if err != nil {
			return err
		}
		_, stats, err := r.pipeline.Analyze(ctx, candidates)
		if err != nil {
			return err
		}
		applyStats(res, stats)
		return nil
	})
}

// MorningDigest ranks the upcoming window and always sends a message, even
// when nothing qualifies. Silence reads as breakage.
func (r *Runner) MorningDigest(ctx context.Context) Result {
	return r.run(ctx, JobMorningDigest, true, func(ctx context.Context, res *Result) error {
		candidates, err := r.trackedCandidates(ctx, res, digestWindowDays)
		if err != nil {
			return err
		}
		opps, stats, err := r.pipeline.Analyze(ctx, candidates)
		if err != nil {
			return err
		}
		applyStats(res, stats)
		res.Counts["ranked"] = len(opps)

		r.notify(ctx, res, formatDigest("Earnings digest", r.mc.Today(), opps, stats))
		return nil
	})
}

// MarketOpenRefresh re-reads spot prices and implied moves once the open
// has settled. Fresh prices go to the cache for the status surfaces; the
// pipeline run refreshes the VRP snapshots.
func (r *Runner) MarketOpenRefresh(ctx context.Context) Result {
	return r.run(ctx, JobMarketOpenRefresh, true, func(ctx context.Context, res *Result) error {
		candidates, err := r.trackedCandidates(ctx, res, refreshWindowDays)
		if err != nil || len(candidates) == 0 {
			return err
		}

		tickers := make([]string, 0, len(candidates))
		for _, cand := range candidates {
			tickers = append(tickers, cand.Ticker)
		}
		if err := r.limits.Wait(ctx, pipeline.VendorOptions); err != nil {
			return err
		}
		prices, err := r.market.GetStockPricesBatch(ctx, tickers)
		if err != nil {
			r.log.Warn().Err(err).Msg("Batch price refresh failed")
		} else {
			for ticker, price := range prices {
				r.kv.Set(priceKey(ticker), []byte(strconv.FormatFloat(price, 'f', -1, 64)), priceTTL)
			}
			res.Counts["prices"] = len(prices)
		}

		_, stats, err := r.pipeline.Analyze(ctx, candidates)
		if err != nil {
			return err
		}
		applyStats(res, stats)
		return nil
	})
}

// PreTradeRefresh is the last look before the usual entry window. It sends
// an update only when something is tradeable; afternoon noise helps nobody.
func (r *Runner) PreTradeRefresh(ctx context.Context) Result {
	return r.run(ctx, JobPreTradeRefresh, true, func(ctx context.Context, res *Result) error {
		candidates, err := r.trackedCandidates(ctx, res, refreshWindowDays)
		if err != nil {
			return err
		}
		opps, stats, err := r.pipeline.Analyze(ctx, candidates)
		if err != nil {
			return err
		}
		applyStats(res, stats)
		res.Counts["ranked"] = len(opps)

		if len(opps) > 0 {
			r.notify(ctx, res, formatDigest("Pre-trade update", r.mc.Today(), opps, stats))
		}
		return nil
	})
}

// AfterHoursCheck lists today's tracked tickers reporting after the close,
// with their morning implied moves where a snapshot exists.
func (r *Runner) AfterHoursCheck(ctx context.Context) Result {
	return r.run(ctx, JobAfterHoursCheck, true, func(ctx context.Context, res *Result) error {
		events, err := r.calendar.Upcoming(ctx, 1)
		if err != nil {
			return err
		}
		tracked, err := r.filterTracked(ctx, events)
		if err != nil {
			return err
		}

		var confirmed, unconfirmed []afterHoursLine
		for _, cand := range tracked {
			line := afterHoursLine{Ticker: cand.Ticker}
			if payload, ok := r.kv.Get(snapshotKey(cand.Ticker, cand.EarningsDate)); ok {
				var eval pipeline.Evaluation
				if err := json.Unmarshal(payload, &eval); err == nil {
					line.ImpliedMovePct = eval.ImpliedMovePct
					line.HasImplied = true
				}
			}
			switch cand.Timing {
			case domain.TimingAMC:
				confirmed = append(confirmed, line)
			case domain.TimingUnknown:
				unconfirmed = append(unconfirmed, line)
			}
		}
		res.Counts["amc_reporters"] = len(confirmed)
		res.Counts["unconfirmed"] = len(unconfirmed)

		if len(confirmed)+len(unconfirmed) > 0 {
			r.notify(ctx, res, formatAfterHours(r.mc.Today(), confirmed, unconfirmed))
		}
		return nil
	})
}

// EveningSummary reports the day: budget spend, cache occupancy, breaker
// states, and every job that ran.
func (r *Runner) EveningSummary(ctx context.Context) Result {
	return r.run(ctx, JobEveningSummary, true, func(ctx context.Context, res *Result) error {
		status, err := r.budget.Status(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("Budget unreadable for summary")
		}
		res.Counts["paid_calls"] = status.CallsToday

		msg := formatSummary(r.mc.Today(), status, r.kv.Stats(), r.breakers.Stats(), r.LastResults())
		r.notify(ctx, res, msg)
		return nil
	})
}
