package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/jobs"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
	"github.com/pmak99/trading-desk-public-sub003/internal/sentiment"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:  t.TempDir(),
		LogLevel: "info",
		Port:     8080,
		Database: config.DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "wire_test.db"),
		},
		Earnings:  config.EarningsConfig{APIKey: "test-key", CacheTTL: time.Hour, RPS: 0.2, Burst: 1},
		Options:   config.OptionsConfig{APIKey: "test-key", RPS: 2, Burst: 4},
		Anthropic: config.AnthropicConfig{APIKey: "test-key", MaxTokens: 256, RPS: 0.5, Burst: 1},
		WebSearch: config.WebSearchConfig{BaseURL: "http://127.0.0.1:1"},
		Budget:    config.BudgetConfig{DailyCallCeiling: 40, MonthlyCostCeiling: 5.00, CostPerCall: 0.01},
		VRP:       config.VRPConfig{MinMoves: 4, ExcellentRatio: 2.0, GoodRatio: 1.5, MarginalRatio: 1.2},
		Scoring: config.ScoringConfig{
			WeightVRP: 0.40, WeightConsistency: 0.25, WeightLiquidity: 0.20, WeightSkew: 0.15,
			TradeableCutoff: 55,
		},
		Liquidity: config.LiquidityConfig{
			OIExcellent: 1000, OIGood: 500, OIWarning: 100,
			VolExcellent: 500, VolGood: 100, VolWarning: 10,
			SpreadExcellent: 5, SpreadGood: 10, SpreadWarning: 20,
		},
		Pipeline: config.PipelineConfig{
			RatioFloor:         1.2,
			MaxSentimentPerRun: 15,
			MaxDigestSize:      10,
			SentimentTTL:       3 * time.Hour,
			RateLimitTickEvery: 5,
		},
		Jobs: config.JobsConfig{Workers: 4},
	}
}

func TestWireBuildsContainer(t *testing.T) {
	c, err := Wire(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.NotNil(t, c.DB)
	assert.NotNil(t, c.Cache)
	assert.NotNil(t, c.Clock)
	assert.NotNil(t, c.Budget)
	assert.NotNil(t, c.Calendar)
	assert.NotNil(t, c.Sentiment)
	assert.NotNil(t, c.Pipeline)
	assert.NotNil(t, c.Runner)
	assert.NotNil(t, c.Scheduler)
	assert.NotNil(t, c.Server)
	assert.Nil(t, c.Backup, "backups are off without credentials")
}

func TestWireProviderChainOrder(t *testing.T) {
	c, err := Wire(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.Equal(t, []domain.SentimentSource{
		domain.SourcePaidAI,
		domain.SourceWebSearch,
		domain.SourceVendorNews,
	}, c.Sentiment.Providers())
}

func TestWireChainWithoutPaidProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Anthropic.APIKey = ""

	c, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.Equal(t, []domain.SentimentSource{
		domain.SourceWebSearch,
		domain.SourceVendorNews,
	}, c.Sentiment.Providers())
}

func TestWireRegistersVendorGuards(t *testing.T) {
	cfg := testConfig(t)
	breakers := circuit.NewManager()
	limits := ratelimit.NewManager()

	registerVendors(cfg, breakers, limits)

	breakerStats := breakers.Stats()
	for _, name := range []string{
		pipeline.VendorOptions,
		sentiment.VendorAnthropic,
		sentiment.VendorWebSearch,
		sentiment.VendorNewsVendor,
	} {
		assert.Contains(t, breakerStats, name)
	}

	limiterStats := limits.Stats()
	assert.Contains(t, limiterStats, pipeline.VendorOptions)
	assert.Contains(t, limiterStats, sentiment.VendorAnthropic)
	assert.NotContains(t, limiterStats, sentiment.VendorWebSearch, "free fallback is breaker-only")
}

func TestWireRejectsUnknownScheduleOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Schedules = map[string]string{"no-such-job": "0 0 12 * * *"}

	_, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestWireRejectsMalformedScheduleOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Schedules = map[string]string{jobs.JobCalendarSync: "not a cron spec"}

	_, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), jobs.JobCalendarSync)
}

func TestWireAppliesScheduleOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Schedules = map[string]string{jobs.JobCalendarSync: "0 15 4 * * *"}

	c, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
}
