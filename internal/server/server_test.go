package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/clients/earningscal"
	"github.com/pmak99/trading-desk-public-sub003/internal/clock"
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/database"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/earnings"
	"github.com/pmak99/trading-desk-public-sub003/internal/ivlog"
	"github.com/pmak99/trading-desk-public-sub003/internal/jobs"
	"github.com/pmak99/trading-desk-public-sub003/internal/moves"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
	"github.com/pmak99/trading-desk-public-sub003/internal/sentiment"
)

type stubReplier struct {
	enabled bool
	chats   []string
	sent    []string
}

func (s *stubReplier) Enabled() bool { return s.enabled }

func (s *stubReplier) SendMessageTo(ctx context.Context, chatID, text, parseMode string) error {
	s.chats = append(s.chats, chatID)
	s.sent = append(s.sent, text)
	return nil
}

type stubCalendarVendor struct {
	entries []earningscal.CalendarEntry
}

func (s *stubCalendarVendor) GetEarningsCalendar(ctx context.Context, horizon earningscal.Horizon) ([]earningscal.CalendarEntry, error) {
	return s.entries, nil
}

type stubChainVendor struct {
	expirations []string
	chains      map[string]*domain.OptionChain
}

func (s *stubChainVendor) GetExpirations(ctx context.Context, ticker string) ([]string, error) {
	return s.expirations, nil
}

func (s *stubChainVendor) GetOptionChain(ctx context.Context, ticker, expiration string) (*domain.OptionChain, error) {
	chain, ok := s.chains[ticker]
	if !ok {
		return nil, domain.ErrNoData
	}
	return chain, nil
}

type stubSentProvider struct{ score float64 }

func (p *stubSentProvider) Source() domain.SentimentSource { return domain.SourceWebSearch }

func (p *stubSentProvider) Fetch(ctx context.Context, ticker, date string) (*domain.SentimentRecord, error) {
	score := p.score
	return &domain.SentimentRecord{
		Ticker:       ticker,
		EarningsDate: date,
		CollectedAt:  time.Now().UTC(),
		Source:       domain.SourceWebSearch,
		Text:         "stub read",
		Score:        &score,
		Direction:    domain.DirectionBullish,
	}, nil
}

type serverFixture struct {
	srv      *Server
	calStore *earnings.Store
	moves    *moves.Store
	options  *stubChainVendor
	replier  *stubReplier
	mc       *clock.MarketClock
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "server_test.db"),
		Profile: database.ProfileStandard,
		Name:    "server_test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	kv := cache.New(db.Conn(), 32, log)
	movesStore := moves.NewStore(db, log)
	ivs := ivlog.NewStore(db, log)
	sentStore := sentiment.NewStore(db, kv, 3*time.Hour, log)
	calStore := earnings.NewStore(db, log)
	mc, err := clock.New(log)
	require.NoError(t, err)

	tracker := budget.NewTracker(db, config.BudgetConfig{
		DailyCallCeiling: 40, MonthlyCostCeiling: 5.00, CostPerCall: 0.01,
	}, mc, log)

	calSvc := earnings.NewService(&stubCalendarVendor{}, calStore, kv, mc, time.Hour, log)
	sentSvc := sentiment.NewService(sentStore, tracker, []sentiment.Provider{&stubSentProvider{score: 0.6}}, log)

	options := &stubChainVendor{
		expirations: []string{"2099-01-15"},
		chains:      map[string]*domain.OptionChain{},
	}
	breakers := circuit.NewManager()
	limits := ratelimit.NewManager()
	evaluator := pipeline.NewEvaluator(
		options, movesStore, ivs, limits, breakers,
		config.VRPConfig{MinMoves: 4, ExcellentRatio: 2.0, GoodRatio: 1.5, MarginalRatio: 1.2},
		log,
	)
	pipeCfg := config.PipelineConfig{
		RatioFloor:         1.2,
		MaxSentimentPerRun: 15,
		MaxDigestSize:      10,
		SentimentTTL:       3 * time.Hour,
		RateLimitTickEvery: 5,
	}
	orch := pipeline.NewOrchestrator(
		evaluator,
		sentSvc,
		tracker,
		config.LiquidityConfig{
			OIExcellent: 1000, OIGood: 500, OIWarning: 100,
			VolExcellent: 500, VolGood: 100, VolWarning: 10,
			SpreadExcellent: 5, SpreadGood: 10, SpreadWarning: 20,
		},
		config.ScoringConfig{
			WeightVRP: 0.40, WeightConsistency: 0.25, WeightLiquidity: 0.20, WeightSkew: 0.15,
			TradeableCutoff: 55,
		},
		pipeCfg,
		log,
	)

	runner := jobs.NewRunner(jobs.Deps{
		Calendar:  calSvc,
		CalStore:  calStore,
		Moves:     movesStore,
		Pipeline:  orch,
		Sentiment: sentSvc,
		SentStore: sentStore,
		IVLog:     ivs,
		Cache:     kv,
		Budget:    tracker,
		Breakers:  breakers,
		Limits:    limits,
		Clock:     mc,
		Config:    pipeCfg,
	}, log)

	replier := &stubReplier{enabled: true}
	srv := New(Config{
		Log:       log,
		Port:      0,
		DB:        db,
		Cache:     kv,
		Budget:    tracker,
		Breakers:  breakers,
		Limits:    limits,
		Runner:    runner,
		Calendar:  calSvc,
		Moves:     movesStore,
		Pipeline:  orch,
		Sentiment: sentSvc,
		Notifier:  replier,
		Clock:     mc,
		Telegram:  config.TelegramConfig{WebhookSecret: "hook-secret"},
		AlertAuth: config.AlertAuthConfig{Token: "alert-token"},
	})

	return &serverFixture{
		srv:      srv,
		calStore: calStore,
		moves:    movesStore,
		options:  options,
		replier:  replier,
		mc:       mc,
	}
}

func (f *serverFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func webhookBody(t *testing.T, text string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"update_id": 1,
		"message": map[string]interface{}{
			"message_id": 7,
			"chat":       map[string]interface{}{"id": 4242},
			"text":       text,
		},
	})
	require.NoError(t, err)
	return string(raw)
}

func (f *serverFixture) webhook(t *testing.T, text string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/webhook/telegram", webhookBody(t, text), map[string]string{
		secretTokenHeader: "hook-secret",
	})
}

func seedHistory(t *testing.T, store *moves.Store, ticker string, pcts ...float64) {
	t.Helper()
	dates := []string{"2024-08-28", "2024-11-20", "2025-02-26", "2025-05-28", "2025-08-27"}
	require.LessOrEqual(t, len(pcts), len(dates))
	batch := make([]domain.HistoricalMove, 0, len(pcts))
	for i, pct := range pcts {
		batch = append(batch, domain.HistoricalMove{
			Ticker:          ticker,
			EarningsDate:    dates[i],
			PrevClose:       100,
			ReactionClose:   100 + pct,
			IntradayMovePct: pct,
		})
	}
	require.NoError(t, store.UpsertBatch(context.Background(), batch))
}

func seedEvent(t *testing.T, store *earnings.Store, ticker, date string, timing domain.Timing) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), domain.EarningsEvent{
		Ticker:     ticker,
		ReportDate: date,
		Timing:     timing,
		Confirmed:  true,
		SourceID:   "test",
	}))
}

func tightChain(ticker string) *domain.OptionChain {
	return &domain.OptionChain{
		Ticker:          ticker,
		Expiration:      "2099-01-15",
		UnderlyingPrice: 100,
		Calls: []domain.OptionQuote{
			{Strike: 100, Bid: 2.9, Ask: 3.1, OpenInterest: 2000, Volume: 900},
		},
		Puts: []domain.OptionQuote{
			{Strike: 100, Bid: 2.4, Ask: 2.6, OpenInterest: 1500, Volume: 700},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := setupServer(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Contains(t, body, "cache")
}

func TestStatusEndpointReportsBudget(t *testing.T) {
	f := setupServer(t)

	rec := f.do(t, http.MethodGet, "/api/status", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 40, body.Budget.DailyCeiling)
	assert.Zero(t, body.Budget.CallsToday)
	assert.Empty(t, body.Jobs)
	assert.Positive(t, body.System.Goroutines)
}

func TestAlertFailsClosedWithoutToken(t *testing.T) {
	f := setupServer(t)
	f.srv.alertAuth.Token = ""

	rec := f.do(t, http.MethodPost, "/api/alerts",
		`{"ticker":"NVDA","earnings_date":"2026-02-10","score":0.7}`,
		map[string]string{"Authorization": "Bearer anything"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAlertRejectsWrongBearer(t *testing.T) {
	f := setupServer(t)

	rec := f.do(t, http.MethodPost, "/api/alerts",
		`{"ticker":"NVDA","earnings_date":"2026-02-10","score":0.7}`,
		map[string]string{"Authorization": "Bearer wrong"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAlertRecordsManualSentiment(t *testing.T) {
	f := setupServer(t)

	rec := f.do(t, http.MethodPost, "/api/alerts",
		`{"ticker":"nvda","earnings_date":"2026-02-10","score":0.7,"text":"guidance chatter"}`,
		map[string]string{"Authorization": "Bearer alert-token"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got domain.SentimentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "NVDA", got.Ticker)
	assert.Equal(t, domain.SourceManual, got.Source)
	assert.Equal(t, domain.DirectionBullish, got.Direction)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.7, *got.Score, 1e-9)
}

func TestAlertValidation(t *testing.T) {
	f := setupServer(t)
	auth := map[string]string{"Authorization": "Bearer alert-token"}

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"ticker":`},
		{"missing ticker", `{"earnings_date":"2026-02-10","score":0.5}`},
		{"missing date", `{"ticker":"NVDA","score":0.5}`},
		{"unparseable date", `{"ticker":"NVDA","earnings_date":"Feb 10","score":0.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/alerts", tt.body, auth)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestWebhookFailsClosedWithoutSecret(t *testing.T) {
	f := setupServer(t)
	f.srv.telegram.WebhookSecret = ""

	rec := f.do(t, http.MethodPost, "/webhook/telegram", webhookBody(t, "/health"), map[string]string{
		secretTokenHeader: "hook-secret",
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, f.replier.sent)
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	f := setupServer(t)

	rec := f.do(t, http.MethodPost, "/webhook/telegram", webhookBody(t, "/health"), map[string]string{
		secretTokenHeader: "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.replier.sent)
}

func TestWebhookHealthCommand(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	assert.Equal(t, "4242", f.replier.chats[0])
	assert.Contains(t, f.replier.sent[0], "Healthy")
	assert.Contains(t, f.replier.sent[0], "Budget 0/40")
}

func TestWebhookStripsBotMention(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/health@vrp_desk_bot")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	assert.Contains(t, f.replier.sent[0], "Healthy")
}

func TestWebhookUnknownCommandRepliesHelp(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/frobnicate")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	assert.Contains(t, f.replier.sent[0], "/analyze TICKER")
}

func TestWebhookIgnoresEmptyUpdates(t *testing.T) {
	f := setupServer(t)

	rec := f.do(t, http.MethodPost, "/webhook/telegram", `{"update_id":1}`, map[string]string{
		secretTokenHeader: "hook-secret",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.replier.sent)
}

func TestWebhookTruncatesOversizedInput(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/health "+strings.Repeat("a", 600))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	assert.Contains(t, f.replier.sent[0], "Healthy")
}

func TestWebhookAnalyzeComputesVRP(t *testing.T) {
	f := setupServer(t)
	today := f.mc.Today()
	seedHistory(t, f.moves, "NVDA", 2.0, 2.5, 3.0, 2.5)
	seedEvent(t, f.calStore, "NVDA", today, domain.TimingAMC)
	f.options.chains["NVDA"] = tightChain("NVDA")

	rec := f.webhook(t, "/analyze nvda")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	msg := f.replier.sent[0]
	assert.Contains(t, msg, "NVDA")
	assert.Contains(t, msg, "VRP 2.20")
	assert.Contains(t, msg, "live chain")
}

func TestWebhookAnalyzeWithoutEvent(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/analyze MSFT")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	assert.Contains(t, f.replier.sent[0], "No upcoming earnings")
}

func TestWebhookAnalyzeRequiresArgument(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/analyze")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	assert.Contains(t, f.replier.sent[0], "Usage: /analyze TICKER")
}

func TestWebhookCouncilConsensus(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/council NVDA")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	msg := f.replier.sent[0]
	assert.Contains(t, msg, "Council")
	assert.Contains(t, msg, "NVDA")
	assert.Contains(t, msg, "Consensus bullish")
}

func TestWebhookWhisperEmptyCalendar(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/whisper")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	assert.Contains(t, f.replier.sent[0], "No qualified opportunities")
}

func TestWebhookDashboard(t *testing.T) {
	f := setupServer(t)

	rec := f.webhook(t, "/dashboard")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.replier.sent, 1)
	msg := f.replier.sent[0]
	assert.Contains(t, msg, "Budget: 0/40 paid calls")
	assert.Contains(t, msg, "Breakers: all closed")
	assert.Contains(t, msg, "No jobs have run yet.")
}
