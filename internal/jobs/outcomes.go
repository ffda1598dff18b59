package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
)

// OutcomeRecorder closes the loop for reporters whose reaction session just
// completed: realized moves into the history table, actual direction onto
// the sentiment rows. Runs Tuesday through Saturday so Friday reporters are
// settled on Saturday morning.
func (r *Runner) OutcomeRecorder(ctx context.Context) Result {
	return r.run(ctx, JobOutcomeRecorder, false, func(ctx context.Context, res *Result) error {
		today := r.mc.Today()
		reaction, err := r.mc.PreviousTradingDay(today)
		if err != nil {
			return err
		}
		prior, err := r.mc.PreviousTradingDay(reaction)
		if err != nil {
			return err
		}

		events, err := r.calStore.Window(ctx, prior, shiftDate(reaction, 1))
		if err != nil {
			return err
		}
		universe, err := r.moves.TrackedUniverse(ctx)
		if err != nil {
			return err
		}

		pacer := pipeline.NewCallPacer(r.cfg.RateLimitTickEvery)
		for _, ev := range events {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !universe[ev.Ticker] {
				continue
			}
			if !reactedOn(ev, reaction, prior) {
				continue
			}
			res.Counts["reporters"]++

			recorded, outcome, err := r.recordRealizedMove(ctx, pacer, ev.Ticker, ev.ReportDate, ev.Timing)
			if err != nil {
				r.log.Warn().Err(err).Str("ticker", ev.Ticker).Msg("Outcome recording failed")
				res.FailedTickers = append(res.FailedTickers, ev.Ticker)
				continue
			}
			if recorded {
				res.Counts["moves"]++
			}
			if outcome {
				res.Counts["outcomes"]++
			}
		}
		res.Counts["vendor_calls"] = pacer.Calls()
		return nil
	})
}

// WeeklyBackfill walks the last quarter of reported events and fills any
// hole in the moves table. Gaps come from mid-week outages and from tickers
// added to the universe after their report.
func (r *Runner) WeeklyBackfill(ctx context.Context) Result {
	return r.run(ctx, JobWeeklyBackfill, false, func(ctx context.Context, res *Result) error {
		events, err := r.calendar.Reported(ctx, backfillLookbackDays)
		if err != nil {
			return err
		}
		universe, err := r.moves.TrackedUniverse(ctx)
		if err != nil {
			return err
		}
		lastSession, err := r.mc.PreviousTradingDay(r.mc.Today())
		if err != nil {
			return err
		}

		known := make(map[string]map[string]bool)
		pacer := pipeline.NewCallPacer(r.cfg.RateLimitTickEvery)
		for _, ev := range events {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !universe[ev.Ticker] {
				continue
			}
			reaction, err := r.reactionDate(ev.Timing, ev.ReportDate)
			if err != nil || reaction > lastSession {
				continue
			}

			if known[ev.Ticker] == nil {
				recorded, err := r.moves.Moves(ctx, ev.Ticker)
				if err != nil {
					res.FailedTickers = append(res.FailedTickers, ev.Ticker)
					continue
				}
				dates := make(map[string]bool, len(recorded))
				for _, m := range recorded {
					dates[m.EarningsDate] = true
				}
				known[ev.Ticker] = dates
			}
			if known[ev.Ticker][ev.ReportDate] {
				continue
			}
			res.Counts["gaps"]++

			filled, outcome, err := r.recordRealizedMove(ctx, pacer, ev.Ticker, ev.ReportDate, ev.Timing)
			if err != nil {
				r.log.Warn().Err(err).Str("ticker", ev.Ticker).Str("date", ev.ReportDate).Msg("Backfill failed")
				res.FailedTickers = append(res.FailedTickers, ev.Ticker)
				continue
			}
			if filled {
				res.Counts["filled"]++
				known[ev.Ticker][ev.ReportDate] = true
			}
			if outcome {
				res.Counts["outcomes"]++
			}
		}
		res.Counts["vendor_calls"] = pacer.Calls()
		return nil
	})
}

// recordRealizedMove fetches the bars around one reaction session, writes
// the realized move, and stamps the outcome onto any sentiment row. A
// failed outcome write does not undo a recorded move.
func (r *Runner) recordRealizedMove(ctx context.Context, pacer *pipeline.CallPacer, ticker, reportDate string, timing domain.Timing) (moveRecorded, outcomeRecorded bool, err error) {
	reaction, err := r.reactionDate(timing, reportDate)
	if err != nil {
		return false, false, err
	}

	if err := r.limits.Wait(ctx, pipeline.VendorOptions); err != nil {
		return false, false, err
	}
	pacer.Tick(ctx)

	bars, err := r.market.GetDailyHistory(ctx, ticker, shiftDate(reaction, -10), reaction)
	if err != nil {
		return false, false, err
	}
	prev, day, ok := reactionBars(bars, reaction)
	if !ok {
		return false, false, fmt.Errorf("no completed session for %s on %s: %w", ticker, reaction, domain.ErrNoData)
	}
	if prev.Close <= 0 || day.Open <= 0 {
		return false, false, fmt.Errorf("degenerate bars for %s on %s", ticker, reaction)
	}

	move := domain.HistoricalMove{
		Ticker:          ticker,
		EarningsDate:    reportDate,
		PrevClose:       prev.Close,
		ReactionOpen:    day.Open,
		ReactionHigh:    day.High,
		ReactionLow:     day.Low,
		ReactionClose:   day.Close,
		GapMovePct:      pctChange(prev.Close, day.Open),
		IntradayMovePct: pctChange(prev.Close, day.Close),
		CloseMovePct:    pctChange(day.Open, day.Close),
		VolumeBefore:    prev.Volume,
		VolumeReaction:  day.Volume,
	}
	if err := r.moves.Upsert(ctx, move); err != nil {
		return false, false, err
	}

	actualDir := domain.ActualUp
	if move.IntradayMovePct < 0 {
		actualDir = domain.ActualDown
	}
	updated, err := r.sentStore.RecordOutcome(ctx, ticker, reportDate, move.IntradayMovePct, actualDir, nil)
	if err != nil {
		r.log.Warn().Err(err).Str("ticker", ticker).Msg("Sentiment outcome write failed")
		return true, false, nil
	}
	return true, updated, nil
}

// reactionDate maps a report to the session its move realizes in. BMO and
// during-hours reporters react the day they report; AMC and unknown-timing
// reporters react the next session.
func (r *Runner) reactionDate(timing domain.Timing, reportDate string) (string, error) {
	switch timing {
	case domain.TimingBMO, domain.TimingDMH:
		return reportDate, nil
	default:
		return r.mc.NextTradingDay(reportDate)
	}
}

// reactedOn reports whether the event's reaction session is the one that
// just completed.
func reactedOn(ev domain.EarningsEvent, reaction, prior string) bool {
	switch ev.Timing {
	case domain.TimingBMO, domain.TimingDMH:
		return ev.ReportDate == reaction
	default:
		return ev.ReportDate == prior
	}
}

// reactionBars finds the reaction-day bar and the session before it.
// Vendor bar order is unspecified.
func reactionBars(bars []domain.PriceBar, reaction string) (prev, day domain.PriceBar, ok bool) {
	sorted := make([]domain.PriceBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	for i, bar := range sorted {
		if bar.Date == reaction {
			if i == 0 {
				return prev, day, false
			}
			return sorted[i-1], bar, true
		}
	}
	return prev, day, false
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

// shiftDate moves an ISO date by whole days.
func shiftDate(date string, days int) string {
	t, err := domain.ParseDate(date)
	if err != nil {
		return date
	}
	return domain.FormatDate(t.AddDate(0, 0, days))
}
