// Package jobs owns the twelve scheduled jobs and their shared plumbing.
// Every job runs through the same wrapper: a run ID, a market-day gate where
// the job only makes sense on trading days, panic recovery, and a recorded
// Result. Per-ticker failures land in the result, never abort the job;
// job-level failures produce status=error and never escape the runner.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/clock"
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/earnings"
	"github.com/pmak99/trading-desk-public-sub003/internal/ivlog"
	"github.com/pmak99/trading-desk-public-sub003/internal/moves"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
	"github.com/pmak99/trading-desk-public-sub003/internal/reliability"
	"github.com/pmak99/trading-desk-public-sub003/internal/sentiment"
)

// Job names. Schedules and result lookups key on these.
const (
	JobCalendarSync      = "calendar-sync"
	JobPreMarketPrep     = "pre-market-prep"
	JobSentimentScan     = "sentiment-scan"
	JobMorningDigest     = "morning-digest"
	JobMarketOpenRefresh = "market-open-refresh"
	JobPreTradeRefresh   = "pre-trade-refresh"
	JobAfterHoursCheck   = "after-hours-check"
	JobEveningSummary    = "evening-summary"
	JobOutcomeRecorder   = "outcome-recorder"
	JobWeeklyBackfill    = "weekly-backfill"
	JobWeeklyBackup      = "weekly-backup"
	JobWeeklyCleanup     = "weekly-cleanup"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

const (
	// prepWindowDays covers today plus the next three calendar days.
	prepWindowDays = 4
	// digestWindowDays covers the same window the morning digest reports on.
	digestWindowDays = 4
	// refreshWindowDays is today plus tomorrow, the entry horizon.
	refreshWindowDays = 2

	snapshotTTL = 24 * time.Hour
	priceTTL    = 15 * time.Minute

	backfillLookbackDays  = 90
	ivLogRetentionDays    = 90
	calendarRetentionDays = 180
)

// Result is what one job run leaves behind: for logs, for the status
// endpoint, and for the evening summary.
type Result struct {
	JobName       string         `json:"job_name"`
	RunID         string         `json:"run_id"`
	Status        string         `json:"status"`
	Started       time.Time      `json:"started"`
	Duration      time.Duration  `json:"duration"`
	Counts        map[string]int `json:"counts,omitempty"`
	FailedTickers []string       `json:"failed_tickers,omitempty"`
	Err           string         `json:"err,omitempty"`
	TelegramError string         `json:"telegram_error,omitempty"`
}

// MarketData is the price-history dependency of the outcome jobs.
// *optionsdata.Client satisfies it.
type MarketData interface {
	GetDailyHistory(ctx context.Context, ticker, start, end string) ([]domain.PriceBar, error)
	GetStockPricesBatch(ctx context.Context, tickers []string) (map[string]float64, error)
}

// Notifier is the digest sink. *telegram.Client satisfies it.
type Notifier interface {
	Enabled() bool
	SendMessage(ctx context.Context, text, parseMode string) error
}

// Deps collects everything the runner touches. Backup may be nil; the
// weekly-backup job then skips with a warning.
type Deps struct {
	Calendar  *earnings.Service
	CalStore  *earnings.Store
	Moves     *moves.Store
	Pipeline  *pipeline.Orchestrator
	Sentiment *sentiment.Service
	SentStore *sentiment.Store
	IVLog     *ivlog.Store
	Cache     *cache.TwoTier
	Budget    *budget.Tracker
	Market    MarketData
	Notifier  Notifier
	Backup    *reliability.Service
	Breakers  *circuit.Manager
	Limits    *ratelimit.Manager
	Clock     *clock.MarketClock
	Config    config.PipelineConfig
}

// Runner executes the jobs and remembers their latest results.
type Runner struct {
	calendar  *earnings.Service
	calStore  *earnings.Store
	moves     *moves.Store
	pipeline  *pipeline.Orchestrator
	sentiment *sentiment.Service
	sentStore *sentiment.Store
	ivs       *ivlog.Store
	kv        *cache.TwoTier
	budget    *budget.Tracker
	market    MarketData
	notifier  Notifier
	backup    *reliability.Service
	breakers  *circuit.Manager
	limits    *ratelimit.Manager
	mc        *clock.MarketClock
	cfg       config.PipelineConfig
	log       zerolog.Logger

	now func() time.Time

	mu   sync.Mutex
	last map[string]Result
}

func NewRunner(d Deps, log zerolog.Logger) *Runner {
	return &Runner{
		calendar:  d.Calendar,
		calStore:  d.CalStore,
		moves:     d.Moves,
		pipeline:  d.Pipeline,
		sentiment: d.Sentiment,
		sentStore: d.SentStore,
		ivs:       d.IVLog,
		kv:        d.Cache,
		budget:    d.Budget,
		market:    d.Market,
		notifier:  d.Notifier,
		backup:    d.Backup,
		breakers:  d.Breakers,
		limits:    d.Limits,
		mc:        d.Clock,
		cfg:       d.Config,
		log:       log.With().Str("component", "jobs").Logger(),
		now:       d.Clock.NowEastern,
		last:      make(map[string]Result),
	}
}

// run is the shared job wrapper. marketDay gates the job to trading days;
// a panic in fn is recovered into status=error. Every run is recorded.
func (r *Runner) run(ctx context.Context, name string, marketDay bool, fn func(ctx context.Context, res *Result) error) (res Result) {
	res = Result{
		JobName: name,
		RunID:   uuid.New().String(),
		Status:  StatusSuccess,
		Started: time.Now().UTC(),
		Counts:  make(map[string]int),
	}
	log := r.log.With().Str("job", name).Str("run_id", res.RunID).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			res.Status = StatusError
			res.Err = fmt.Sprintf("panic: %v", rec)
			log.Error().Str("panic", fmt.Sprint(rec)).Msg("Job panicked")
		}
		res.Duration = time.Since(res.Started)
		r.record(res)

		evt := log.Info()
		if res.Status == StatusError {
			evt = log.Error()
		}
		evt.Str("status", res.Status).
			Dur("duration_ms", res.Duration).
			Int("failed_tickers", len(res.FailedTickers)).
			Msg("Job finished")
	}()

	if marketDay && r.mc.IsNonTradingDay(r.now()) {
		res.Status = StatusSkipped
		log.Info().Msg("Non-trading day, skipping")
		return res
	}

	log.Info().Msg("Job started")
	if err := fn(ctx, &res); err != nil {
		res.Status = StatusError
		res.Err = err.Error()
	}
	return res
}

func (r *Runner) record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[res.JobName] = res
}

// LastResults returns the most recent result per job, oldest start first.
func (r *Runner) LastResults() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]Result, 0, len(r.last))
	for _, res := range r.last {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Started.Equal(results[j].Started) {
			return results[i].JobName < results[j].JobName
		}
		return results[i].Started.Before(results[j].Started)
	})
	return results
}

// trackedCandidates fetches the upcoming window and filters it to tickers
// with recorded history. An empty calendar is absence, not an error.
func (r *Runner) trackedCandidates(ctx context.Context, res *Result, days int) ([]pipeline.Candidate, error) {
	events, err := r.calendar.Upcoming(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("calendar window failed: %w", err)
	}
	if len(events) == 0 {
		r.log.Warn().Int("days", days).Msg("Calendar returned no upcoming events")
		res.Counts["candidates"] = 0
		return nil, nil
	}

	tracked, err := r.filterTracked(ctx, events)
	if err != nil {
		return nil, err
	}
	res.Counts["candidates"] = len(tracked)
	return tracked, nil
}

// filterTracked keeps only events whose ticker has recorded history. The
// moves table is the universe: without a distribution there is no VRP.
func (r *Runner) filterTracked(ctx context.Context, events []domain.EarningsEvent) ([]pipeline.Candidate, error) {
	universe, err := r.moves.TrackedUniverse(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracked universe unavailable: %w", err)
	}

	kept := make([]domain.EarningsEvent, 0, len(events))
	for _, ev := range events {
		if universe[ev.Ticker] {
			kept = append(kept, ev)
		}
	}
	return pipeline.CandidatesFromEvents(kept), nil
}

// notify sends text to the sink. Sink failures are recorded on the result
// and never fail the job: a digest that computed is a digest that counts.
func (r *Runner) notify(ctx context.Context, res *Result, text string) {
	if r.notifier == nil || !r.notifier.Enabled() {
		r.log.Debug().Str("job", res.JobName).Msg("Notifier disabled, dropping message")
		return
	}
	if err := r.notifier.SendMessage(ctx, text, "Markdown"); err != nil {
		res.TelegramError = err.Error()
		r.log.Error().Err(err).Str("job", res.JobName).Msg("Failed to send message")
	}
}

// applyStats copies pipeline statistics into the job result.
func applyStats(res *Result, stats pipeline.Stats) {
	res.Counts["candidates"] = stats.Candidates
	res.Counts["evaluated"] = stats.Evaluated
	res.Counts["passed_floor"] = stats.PassedFloor
	res.Counts["enriched"] = stats.Enriched
	res.Counts["vendor_calls"] = stats.VendorCalls
	res.FailedTickers = append(res.FailedTickers, stats.FailedTickers...)
}

func snapshotKey(ticker, date string) string {
	return "vrp:snapshot:" + ticker + ":" + date
}

func priceKey(ticker string) string {
	return "price:" + ticker
}

// Adapter binds one runner method to the scheduler's Job contract with the
// process root context.
type Adapter struct {
	name string
	ctx  context.Context
	fn   func(context.Context) Result
}

func (a Adapter) Name() string { return a.name }

// Run executes the bound job. Skips are not errors; only status=error
// surfaces to the scheduler.
func (a Adapter) Run() error {
	res := a.fn(a.ctx)
	if res.Status == StatusError {
		return errors.New(res.Err)
	}
	return nil
}

// Adapters returns every job bound to ctx, in schedule order.
func (r *Runner) Adapters(ctx context.Context) []Adapter {
	bind := func(name string, fn func(context.Context) Result) Adapter {
		return Adapter{name: name, ctx: ctx, fn: fn}
	}
	return []Adapter{
		bind(JobCalendarSync, r.CalendarSync),
		bind(JobPreMarketPrep, r.PreMarketPrep),
		bind(JobSentimentScan, r.SentimentScan),
		bind(JobMorningDigest, r.MorningDigest),
		bind(JobMarketOpenRefresh, r.MarketOpenRefresh),
		bind(JobPreTradeRefresh, r.PreTradeRefresh),
		bind(JobAfterHoursCheck, r.AfterHoursCheck),
		bind(JobEveningSummary, r.EveningSummary),
		bind(JobOutcomeRecorder, r.OutcomeRecorder),
		bind(JobWeeklyBackfill, r.WeeklyBackfill),
		bind(JobWeeklyBackup, r.WeeklyBackup),
		bind(JobWeeklyCleanup, r.WeeklyCleanup),
	}
}

// DefaultSchedules maps each job to its six-field cron spec in Eastern
// time. JobsConfig.Schedules overrides per job.
func DefaultSchedules() map[string]string {
	return map[string]string{
		JobCalendarSync:      "0 30 5 * * *",
		JobPreMarketPrep:     "0 30 6 * * MON-FRI",
		JobSentimentScan:     "0 0 7 * * MON-FRI",
		JobMorningDigest:     "0 30 7 * * MON-FRI",
		JobMarketOpenRefresh: "0 45 9 * * MON-FRI",
		JobPreTradeRefresh:   "0 45 14 * * MON-FRI",
		JobAfterHoursCheck:   "0 30 16 * * MON-FRI",
		JobEveningSummary:    "0 0 18 * * MON-FRI",
		JobOutcomeRecorder:   "0 0 10 * * TUE-SAT",
		JobWeeklyBackfill:    "0 0 8 * * SAT",
		JobWeeklyBackup:      "0 0 3 * * SUN",
		JobWeeklyCleanup:     "0 0 4 * * SUN",
	}
}
