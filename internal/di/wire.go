// Package di wires the application graph: database, cache, stores, vendor
// clients, services, the job runner, the scheduler, and the HTTP server.
// Construction order matters; everything downstream borrows the single
// database handle the container owns.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/anthropic"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/earningscal"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/optionsdata"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/telegram"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/websearch"
	"github.com/pmak99/trading-desk-public-sub003/internal/clock"
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/earnings"
	"github.com/pmak99/trading-desk-public-sub003/internal/ivlog"
	"github.com/pmak99/trading-desk-public-sub003/internal/jobs"
	"github.com/pmak99/trading-desk-public-sub003/internal/moves"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
	"github.com/pmak99/trading-desk-public-sub003/internal/reliability"
	"github.com/pmak99/trading-desk-public-sub003/internal/scheduler"
	"github.com/pmak99/trading-desk-public-sub003/internal/sentiment"
	"github.com/pmak99/trading-desk-public-sub003/internal/server"
)

// l1CacheCapacity bounds the in-process tier. Snapshots and prices for a
// day's candidates fit comfortably; the L2 tier holds the long tail.
const l1CacheCapacity = 512

// Container holds every constructed component. Close releases the database;
// the scheduler and server are stopped by main's shutdown sequence.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	DB    *database.DB
	Cache *cache.TwoTier
	Clock *clock.MarketClock

	Breakers *circuit.Manager
	Limits   *ratelimit.Manager

	CalStore  *earnings.Store
	Moves     *moves.Store
	IVLog     *ivlog.Store
	SentStore *sentiment.Store
	Budget    *budget.Tracker

	Options  *optionsdata.Client
	Telegram *telegram.Client

	Calendar  *earnings.Service
	Sentiment *sentiment.Service
	Pipeline  *pipeline.Orchestrator
	Backup    *reliability.Service

	Runner    *jobs.Runner
	Scheduler *scheduler.Scheduler
	Server    *server.Server
}

// Wire builds the full graph from configuration. ctx is the process root:
// scheduled jobs are bound to it and the backup client resolves credentials
// under it. On error everything already opened is released.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := database.New(database.Config{
		Path:    cfg.Database.Path,
		Profile: database.ProfileStandard,
		Name:    "desk",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	mc, err := clock.New(log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load market clock: %w", err)
	}

	kv := cache.New(db.Conn(), l1CacheCapacity, log)

	breakers := circuit.NewManager()
	limits := ratelimit.NewManager()
	registerVendors(cfg, breakers, limits)

	calStore := earnings.NewStore(db, log)
	movesStore := moves.NewStore(db, log)
	ivs := ivlog.NewStore(db, log)
	sentStore := sentiment.NewStore(db, kv, cfg.Pipeline.SentimentTTL, log)
	tracker := budget.NewTracker(db, cfg.Budget, mc, log)

	calVendor := earningscal.NewClient(cfg.Earnings, log)
	options := optionsdata.NewClient(cfg.Options, log)
	tg := telegram.NewClient(cfg.Telegram, log)

	calendar := earnings.NewService(calVendor, calStore, kv, mc, cfg.Earnings.CacheTTL, log)
	sentSvc := sentiment.NewService(
		sentStore, tracker,
		sentimentProviders(cfg, calVendor, limits, breakers, log),
		log,
	)

	evaluator := pipeline.NewEvaluator(options, movesStore, ivs, limits, breakers, cfg.VRP, log)
	orchestrator := pipeline.NewOrchestrator(evaluator, sentSvc, tracker, cfg.Liquidity, cfg.Scoring, cfg.Pipeline, log)

	var backup *reliability.Service
	if cfg.Backup.Enabled() {
		backup, err = reliability.NewService(ctx, db, cfg.Backup, log)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize backup service: %w", err)
		}
	} else {
		log.Warn().Msg("Backups not configured, weekly-backup job will skip")
	}

	runner := jobs.NewRunner(jobs.Deps{
		Calendar:  calendar,
		CalStore:  calStore,
		Moves:     movesStore,
		Pipeline:  orchestrator,
		Sentiment: sentSvc,
		SentStore: sentStore,
		IVLog:     ivs,
		Cache:     kv,
		Budget:    tracker,
		Market:    options,
		Notifier:  tg,
		Backup:    backup,
		Breakers:  breakers,
		Limits:    limits,
		Clock:     mc,
		Config:    cfg.Pipeline,
	}, log)

	sched := scheduler.New(mc.Location(), cfg.Jobs.Workers, log)
	if err := registerSchedules(ctx, sched, runner, cfg.Jobs.Schedules, log); err != nil {
		db.Close()
		return nil, err
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DB:        db,
		Cache:     kv,
		Budget:    tracker,
		Breakers:  breakers,
		Limits:    limits,
		Runner:    runner,
		Calendar:  calendar,
		Moves:     movesStore,
		Pipeline:  orchestrator,
		Sentiment: sentSvc,
		Notifier:  tg,
		Clock:     mc,
		Telegram:  cfg.Telegram,
		AlertAuth: cfg.AlertAuth,
	})

	log.Info().
		Str("earnings_key", config.MaskSecret(cfg.Earnings.APIKey)).
		Str("options_key", config.MaskSecret(cfg.Options.APIKey)).
		Str("anthropic_key", config.MaskSecret(cfg.Anthropic.APIKey)).
		Str("telegram_token", config.MaskSecret(cfg.Telegram.BotToken)).
		Msg("Dependency wiring complete")

	return &Container{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Cache:     kv,
		Clock:     mc,
		Breakers:  breakers,
		Limits:    limits,
		CalStore:  calStore,
		Moves:     movesStore,
		IVLog:     ivs,
		SentStore: sentStore,
		Budget:    tracker,
		Options:   options,
		Telegram:  tg,
		Calendar:  calendar,
		Sentiment: sentSvc,
		Pipeline:  orchestrator,
		Backup:    backup,
		Runner:    runner,
		Scheduler: sched,
		Server:    srv,
	}, nil
}

// Close releases the database handle. Call after the scheduler and server
// have stopped.
func (c *Container) Close() {
	if err := c.DB.Close(); err != nil {
		c.Log.Error().Err(err).Msg("Failed to close database")
	}
}

// registerVendors installs a breaker per external vendor and a rate bucket
// where the vendor publishes a request ceiling. The web-search and
// vendor-news fallbacks are breaker-only: one is a free scrape, the other
// shares the calendar vendor's own daily counter.
func registerVendors(cfg *config.Config, breakers *circuit.Manager, limits *ratelimit.Manager) {
	limits.AddVendor(pipeline.VendorOptions, cfg.Options.RPS, cfg.Options.Burst)
	limits.AddVendor(sentiment.VendorAnthropic, cfg.Anthropic.RPS, cfg.Anthropic.Burst)

	for _, name := range []string{
		pipeline.VendorOptions,
		sentiment.VendorAnthropic,
		sentiment.VendorWebSearch,
		sentiment.VendorNewsVendor,
	} {
		breakers.AddVendor(name, circuit.DefaultConfig())
	}
}

// sentimentProviders assembles the fallback chain in priority order: paid
// AI, then the headline lexicon, then the calendar vendor's news feed.
// Unconfigured providers are left out rather than wired to fail.
func sentimentProviders(
	cfg *config.Config,
	news sentiment.NewsFetcher,
	limits *ratelimit.Manager,
	breakers *circuit.Manager,
	log zerolog.Logger,
) []sentiment.Provider {
	providers := make([]sentiment.Provider, 0, 3)

	if cfg.Anthropic.Enabled() {
		providers = append(providers,
			sentiment.NewPaidAIProvider(anthropic.NewClient(cfg.Anthropic, log), limits, breakers, log))
	} else {
		log.Warn().Msg("Paid sentiment not configured, chain starts at web search")
	}

	if cfg.WebSearch.Enabled() {
		providers = append(providers,
			sentiment.NewWebSearchProvider(websearch.NewClient(cfg.WebSearch, log), breakers, log))
	}

	providers = append(providers, sentiment.NewVendorNewsProvider(news, breakers, log))
	return providers
}

// registerSchedules binds every job to its cron spec, with per-job
// overrides from configuration. An override for an unknown job name is a
// config typo and fails the wire.
func registerSchedules(
	ctx context.Context,
	sched *scheduler.Scheduler,
	runner *jobs.Runner,
	overrides map[string]string,
	log zerolog.Logger,
) error {
	specs := jobs.DefaultSchedules()
	for name, spec := range overrides {
		if _, ok := specs[name]; !ok {
			return fmt.Errorf("schedule override for unknown job %q", name)
		}
		log.Info().Str("job", name).Str("schedule", spec).Msg("Job schedule overridden")
		specs[name] = spec
	}

	for _, adapter := range runner.Adapters(ctx) {
		if err := sched.AddJob(specs[adapter.Name()], adapter); err != nil {
			return err
		}
	}
	return nil
}
