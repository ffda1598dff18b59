// Package main is the entry point for the earnings volatility desk. The
// process runs twelve scheduled jobs around the US market day (calendar
// sync, pre-market analysis, digests, outcome recording, weekly
// maintenance) and serves a small HTTP surface for health, status, alert
// ingest, and the Telegram bot webhook.
//
// Startup order:
//  1. Load configuration from the environment (.env supported), fail fast
//  2. Build the logger at the configured level
//  3. Wire the dependency graph (database, stores, vendors, services)
//  4. Start the cron scheduler in Eastern time
//  5. Start the HTTP server
//  6. Block until SIGINT/SIGTERM, then drain jobs and shut the server down
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/di"
	"github.com/pmak99/trading-desk-public-sub003/pkg/logger"
)

const (
	// jobDrainWindow is how long shutdown waits for in-flight jobs.
	jobDrainWindow = 30 * time.Second
	// httpDrainWindow is how long shutdown waits for in-flight requests.
	httpDrainWindow = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Pretty,
	})
	log.Info().Msg("Starting earnings desk")

	// Root context for scheduled jobs. Cancelled first on shutdown so jobs
	// in flight stop issuing vendor calls while the scheduler drains.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	container.Scheduler.Start()
	log.Info().Msg("Scheduler started")

	go func() {
		if err := container.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	cancel()

	container.Scheduler.Stop(jobDrainWindow)
	log.Info().Msg("Scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpDrainWindow)
	defer shutdownCancel()
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}
