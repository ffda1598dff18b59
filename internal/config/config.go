// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. Read-only after Load.
type Config struct {
	DataDir  string // Base directory for the database and backup staging
	LogLevel string
	Pretty   bool // Pretty console logging (dev mode)
	Port     int

	Database  DatabaseConfig
	Telegram  TelegramConfig
	Earnings  EarningsConfig
	Options   OptionsConfig
	Anthropic AnthropicConfig
	WebSearch WebSearchConfig
	Budget    BudgetConfig
	VRP       VRPConfig
	Scoring   ScoringConfig
	Liquidity LiquidityConfig
	Pipeline  PipelineConfig
	Jobs      JobsConfig
	Backup    BackupConfig
	AlertAuth AlertAuthConfig
}

// DatabaseConfig locates the durable substrate.
type DatabaseConfig struct {
	Path string
}

// TelegramConfig configures the downstream digest sink and the bot webhook.
type TelegramConfig struct {
	BotToken      string
	ChatID        string
	WebhookSecret string
	BaseURL       string // Overridable for tests
}

// Enabled reports whether the sink can actually send.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// EarningsConfig configures the earnings-calendar vendor.
// The free tier allows roughly 25 calls/day, so the calendar is cached
// aggressively (CacheTTL) and served stale when the vendor is down.
type EarningsConfig struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration
	RPS      float64
	Burst    int
}

// OptionsConfig configures the options-data vendor.
type OptionsConfig struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxBodySize int64 // Response size cap in bytes
	RPS         float64
	Burst       int
}

// AnthropicConfig configures the paid AI sentiment vendor.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string // Overridable for tests
	RPS       float64
	Burst     int
}

// Enabled reports whether paid sentiment is configured.
func (c AnthropicConfig) Enabled() bool {
	return c.APIKey != ""
}

// WebSearchConfig configures the free web-search sentiment fallback.
type WebSearchConfig struct {
	BaseURL string
}

// Enabled reports whether the web-search fallback is configured.
func (c WebSearchConfig) Enabled() bool {
	return c.BaseURL != ""
}

// BudgetConfig bounds paid AI spend. DailyCallCeiling is a soft target
// (check-then-record races are tolerated); MonthlyCostCeiling is the hard
// stop.
type BudgetConfig struct {
	DailyCallCeiling   int
	MonthlyCostCeiling float64
	CostPerCall        float64
}

// VRPConfig holds the volatility-risk-premium thresholds.
type VRPConfig struct {
	MinMoves       int
	ExcellentRatio float64
	GoodRatio      float64
	MarginalRatio  float64
}

// ScoringConfig holds composite weights and the tradeable cutoff.
// Weights must sum to 1.
type ScoringConfig struct {
	WeightVRP         float64
	WeightConsistency float64
	WeightLiquidity   float64
	WeightSkew        float64
	TradeableCutoff   float64
}

// LiquidityConfig holds per-axis liquidity thresholds.
type LiquidityConfig struct {
	OIExcellent     int64
	OIGood          int64
	OIWarning       int64
	VolExcellent    int64
	VolGood         int64
	VolWarning      int64
	SpreadExcellent float64 // percent of mid
	SpreadGood      float64
	SpreadWarning   float64
}

// PipelineConfig bounds the digest pipeline.
type PipelineConfig struct {
	RatioFloor         float64 // VRP ratio below this is dropped
	MaxSentimentPerRun int     // Cap on paid enrichments per run
	MaxDigestSize      int
	SentimentTTL       time.Duration
	RateLimitTickEvery int // Courtesy sleep frequency inside per-ticker loops
}

// JobsConfig configures the runner and scheduler.
type JobsConfig struct {
	Workers   int
	Schedules map[string]string // job name -> cron spec (Eastern), overrides defaults
}

// BackupConfig configures weekly S3 snapshots. Optional: when Bucket is empty
// the backup job skips with a warning.
type BackupConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // Non-AWS S3-compatible endpoints (e.g. R2)
	AccessKey string
	SecretKey string
	Retention int // How many remote backups to keep
}

// Enabled reports whether backups are configured.
func (c BackupConfig) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// AlertAuthConfig protects the alert-ingest endpoint. Fail-closed: an empty
// token means the endpoint refuses everything with a misconfiguration error.
type AlertAuthConfig struct {
	Token string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Pretty:   getEnvAsBool("LOG_PRETTY", false),
		Port:     getEnvAsInt("PORT", 8080),
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", filepath.Join(absDataDir, "desk.db")),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:        getEnv("TELEGRAM_CHAT_ID", ""),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		},
		Earnings: EarningsConfig{
			APIKey:   getEnv("EARNINGS_API_KEY", ""),
			BaseURL:  getEnv("EARNINGS_BASE_URL", "https://www.alphavantage.co/query"),
			CacheTTL: getEnvAsDuration("EARNINGS_CACHE_TTL", 24*time.Hour),
			RPS:      getEnvAsFloat("EARNINGS_RPS", 0.2),
			Burst:    getEnvAsInt("EARNINGS_BURST", 1),
		},
		Options: OptionsConfig{
			APIKey:      getEnv("OPTIONS_API_KEY", ""),
			BaseURL:     getEnv("OPTIONS_BASE_URL", "https://api.tradier.com/v1"),
			Timeout:     getEnvAsDuration("OPTIONS_TIMEOUT", 30*time.Second),
			MaxBodySize: int64(getEnvAsInt("OPTIONS_MAX_BODY_MB", 8)) * 1024 * 1024,
			RPS:         getEnvAsFloat("OPTIONS_RPS", 2),
			Burst:       getEnvAsInt("OPTIONS_BURST", 4),
		},
		Anthropic: AnthropicConfig{
			APIKey:    getEnv("ANTHROPIC_API_KEY", ""),
			Model:     getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			MaxTokens: getEnvAsInt("ANTHROPIC_MAX_TOKENS", 1024),
			BaseURL:   getEnv("ANTHROPIC_BASE_URL", ""),
			RPS:       getEnvAsFloat("ANTHROPIC_RPS", 0.5),
			Burst:     getEnvAsInt("ANTHROPIC_BURST", 1),
		},
		WebSearch: WebSearchConfig{
			BaseURL: getEnv("WEBSEARCH_BASE_URL", ""),
		},
		Budget: BudgetConfig{
			DailyCallCeiling:   getEnvAsInt("BUDGET_DAILY_CALLS", 40),
			MonthlyCostCeiling: getEnvAsFloat("BUDGET_MONTHLY_USD", 5.00),
			CostPerCall:        getEnvAsFloat("BUDGET_COST_PER_CALL", 0.01),
		},
		VRP: VRPConfig{
			MinMoves:       getEnvAsInt("VRP_MIN_MOVES", 4),
			ExcellentRatio: getEnvAsFloat("VRP_EXCELLENT_RATIO", 2.0),
			GoodRatio:      getEnvAsFloat("VRP_GOOD_RATIO", 1.5),
			MarginalRatio:  getEnvAsFloat("VRP_MARGINAL_RATIO", 1.2),
		},
		Scoring: ScoringConfig{
			WeightVRP:         getEnvAsFloat("SCORE_WEIGHT_VRP", 0.40),
			WeightConsistency: getEnvAsFloat("SCORE_WEIGHT_CONSISTENCY", 0.25),
			WeightLiquidity:   getEnvAsFloat("SCORE_WEIGHT_LIQUIDITY", 0.20),
			WeightSkew:        getEnvAsFloat("SCORE_WEIGHT_SKEW", 0.15),
			TradeableCutoff:   getEnvAsFloat("SCORE_TRADEABLE_CUTOFF", 55),
		},
		Liquidity: LiquidityConfig{
			OIExcellent:     int64(getEnvAsInt("LIQ_OI_EXCELLENT", 1000)),
			OIGood:          int64(getEnvAsInt("LIQ_OI_GOOD", 500)),
			OIWarning:       int64(getEnvAsInt("LIQ_OI_WARNING", 100)),
			VolExcellent:    int64(getEnvAsInt("LIQ_VOL_EXCELLENT", 500)),
			VolGood:         int64(getEnvAsInt("LIQ_VOL_GOOD", 100)),
			VolWarning:      int64(getEnvAsInt("LIQ_VOL_WARNING", 10)),
			SpreadExcellent: getEnvAsFloat("LIQ_SPREAD_EXCELLENT", 5),
			SpreadGood:      getEnvAsFloat("LIQ_SPREAD_GOOD", 10),
			SpreadWarning:   getEnvAsFloat("LIQ_SPREAD_WARNING", 20),
		},
		Pipeline: PipelineConfig{
			RatioFloor:         getEnvAsFloat("PIPELINE_RATIO_FLOOR", 1.2),
			MaxSentimentPerRun: getEnvAsInt("PIPELINE_MAX_SENTIMENT", 15),
			MaxDigestSize:      getEnvAsInt("PIPELINE_MAX_DIGEST", 10),
			SentimentTTL:       getEnvAsDuration("SENTIMENT_TTL", 3*time.Hour),
			RateLimitTickEvery: getEnvAsInt("PIPELINE_TICK_EVERY", 5),
		},
		Jobs: JobsConfig{
			Workers:   getEnvAsInt("JOB_WORKERS", 4),
			Schedules: map[string]string{},
		},
		Backup: BackupConfig{
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", "backups"),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Retention: getEnvAsInt("BACKUP_RETENTION", 8),
		},
		AlertAuth: AlertAuthConfig{
			Token: getEnv("ALERT_AUTH_TOKEN", ""),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Budget.DailyCallCeiling < 0 || c.Budget.MonthlyCostCeiling < 0 {
		return fmt.Errorf("budget ceilings must not be negative")
	}
	if c.VRP.MinMoves < 1 {
		return fmt.Errorf("VRP_MIN_MOVES must be at least 1")
	}
	if !(c.VRP.ExcellentRatio > c.VRP.GoodRatio && c.VRP.GoodRatio > c.VRP.MarginalRatio && c.VRP.MarginalRatio > 1.0) {
		return fmt.Errorf("VRP tier thresholds must descend: excellent > good > marginal > 1.0")
	}

	sum := c.Scoring.WeightVRP + c.Scoring.WeightConsistency + c.Scoring.WeightLiquidity + c.Scoring.WeightSkew
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.3f", sum)
	}

	// Note: Telegram, Anthropic and backup credentials are optional. Features
	// degrade (no sink, no paid sentiment, no backups) rather than fail here.
	return nil
}

// MaskSecret hides all but the first 4 characters of a secret for logging.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
