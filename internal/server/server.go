// Package server provides the HTTP surface: liveness, operational status,
// authenticated alert ingest, and the Telegram bot webhook.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/clock"
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/earnings"
	"github.com/pmak99/trading-desk-public-sub003/internal/jobs"
	"github.com/pmak99/trading-desk-public-sub003/internal/moves"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
	"github.com/pmak99/trading-desk-public-sub003/internal/sentiment"
)

// Replier delivers webhook command replies to the originating chat.
// *telegram.Client satisfies it.
type Replier interface {
	Enabled() bool
	SendMessageTo(ctx context.Context, chatID, text, parseMode string) error
}

// Config holds everything the HTTP server serves from. Notifier may be nil;
// webhook replies are then logged and dropped.
type Config struct {
	Log       zerolog.Logger
	Port      int
	DB        *database.DB
	Cache     *cache.TwoTier
	Budget    *budget.Tracker
	Breakers  *circuit.Manager
	Limits    *ratelimit.Manager
	Runner    *jobs.Runner
	Calendar  *earnings.Service
	Moves     *moves.Store
	Pipeline  *pipeline.Orchestrator
	Sentiment *sentiment.Service
	Notifier  Replier
	Clock     *clock.MarketClock
	Telegram  config.TelegramConfig
	AlertAuth config.AlertAuthConfig
}

// Server is the HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	db        *database.DB
	kv        *cache.TwoTier
	budget    *budget.Tracker
	breakers  *circuit.Manager
	limits    *ratelimit.Manager
	runner    *jobs.Runner
	calendar  *earnings.Service
	moves     *moves.Store
	pipeline  *pipeline.Orchestrator
	sentiment *sentiment.Service
	notifier  Replier
	mc        *clock.MarketClock
	telegram  config.TelegramConfig
	alertAuth config.AlertAuthConfig
	started   time.Time
}

// New creates the HTTP server with middleware and routes configured.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		db:        cfg.DB,
		kv:        cfg.Cache,
		budget:    cfg.Budget,
		breakers:  cfg.Breakers,
		limits:    cfg.Limits,
		runner:    cfg.Runner,
		calendar:  cfg.Calendar,
		moves:     cfg.Moves,
		pipeline:  cfg.Pipeline,
		sentiment: cfg.Sentiment,
		notifier:  cfg.Notifier,
		mc:        cfg.Clock,
		telegram:  cfg.Telegram,
		alertAuth: cfg.AlertAuth,
		started:   time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/alerts", s.handleAlert)
	})

	s.router.Post("/webhook/telegram", s.handleTelegramWebhook)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
