// Package earningscal fetches the corporate earnings calendar and per-ticker
// news sentiment from the vendor's REST API.
//
// The free tier allows roughly 25 requests per day, so the client keeps its
// own daily counter and refuses further calls once it is spent. Callers are
// expected to cache aggressively (the earnings service holds the full
// calendar for 24h) and to fall back to stale data when a call is refused.
package earningscal

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

const (
	dailyRequestLimit = 25
	maxRetries        = 3
	newsCacheTTL      = 30 * time.Minute
)

// retryBaseWait is the backoff unit; tests shrink it.
var retryBaseWait = time.Second

// Horizon selects the calendar window the vendor returns.
type Horizon string

const (
	Horizon3Month  Horizon = "3month"
	Horizon6Month  Horizon = "6month"
	Horizon12Month Horizon = "12month"
)

// ErrRateLimitExceeded reports the client-side daily request cap was spent.
type ErrRateLimitExceeded struct {
	Limit int
}

func (e ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("daily request limit of %d reached", e.Limit)
}

// Unwrap lets callers branch on the generic refusal sentinel.
func (e ErrRateLimitExceeded) Unwrap() error {
	return domain.ErrRateLimited
}

// CalendarEntry is one row of the vendor's earnings calendar CSV.
type CalendarEntry struct {
	Ticker           string
	Name             string
	ReportDate       string // YYYY-MM-DD
	FiscalDateEnding string
	Estimate         *float64
	Currency         string
}

// NewsArticle is one item of the vendor's news-sentiment feed, with the
// requested ticker's own sentiment extracted from the per-ticker list.
type NewsArticle struct {
	Title           string
	Summary         string
	URL             string
	PublishedAt     string
	OverallScore    float64
	TickerScore     float64
	TickerRelevance float64
}

type cacheEntry struct {
	data      interface{}
	expiresAt time.Time
}

// Client for the earnings-calendar vendor.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu           sync.Mutex
	requestCount int
	requestDate  string

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

// NewClient creates a new earnings-calendar client.
func NewClient(cfg config.EarningsConfig, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "earningscal").Logger(),
		cache:   make(map[string]cacheEntry),
	}
}

// GetEarningsCalendar fetches the calendar for the given horizon.
func (c *Client) GetEarningsCalendar(ctx context.Context, horizon Horizon) ([]CalendarEntry, error) {
	if horizon == "" {
		horizon = Horizon3Month
	}
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		entries, err := c.fetchCalendar(ctx, horizon)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			if attempt < maxRetries-1 {
				waitTime := time.Duration(1<<uint(attempt)) * retryBaseWait
				c.log.Warn().Err(err).
					Str("horizon", string(horizon)).
					Int("attempt", attempt+1).
					Dur("wait", waitTime).
					Msg("Calendar fetch failed, retrying")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(waitTime):
				}
				continue
			}
			break
		}

		c.log.Info().
			Str("horizon", string(horizon)).
			Int("entries", len(entries)).
			Msg("Fetched earnings calendar")
		return entries, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// GetNewsSentiment fetches recent news items for one ticker. Results are
// cached in memory for a short window because tickers repeat within a run.
func (c *Client) GetNewsSentiment(ctx context.Context, ticker string) ([]NewsArticle, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	cacheKey := "news:" + normalized
	if cached, ok := c.getFromCache(cacheKey); ok {
		if articles, ok := cached.([]NewsArticle); ok {
			c.log.Debug().Str("ticker", normalized).Msg("News cache hit")
			return articles, nil
		}
	}

	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		articles, err := c.fetchNews(ctx, normalized)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			if attempt < maxRetries-1 {
				waitTime := time.Duration(1<<uint(attempt)) * retryBaseWait
				c.log.Warn().Err(err).
					Str("ticker", normalized).
					Int("attempt", attempt+1).
					Dur("wait", waitTime).
					Msg("News fetch failed, retrying")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(waitTime):
				}
				continue
			}
			break
		}

		c.setCache(cacheKey, articles, newsCacheTTL)
		c.log.Debug().
			Str("ticker", normalized).
			Int("articles", len(articles)).
			Msg("Fetched news sentiment")
		return articles, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) fetchCalendar(ctx context.Context, horizon Horizon) ([]CalendarEntry, error) {
	params := url.Values{}
	params.Set("function", "EARNINGS_CALENDAR")
	params.Set("horizon", string(horizon))
	params.Set("apikey", c.apiKey)

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := bufio.NewReader(body)

	// The vendor reports quota and error conditions as a JSON object even on
	// the CSV endpoint. Peek instead of parsing so the happy path stays
	// streaming.
	if first, err := reader.Peek(1); err == nil && first[0] == '{' {
		raw, _ := io.ReadAll(io.LimitReader(reader, 4096))
		return nil, vendorNoteError(raw)
	}

	return parseCalendarCSV(reader, c.log)
}

func (c *Client) fetchNews(ctx context.Context, ticker string) ([]NewsArticle, error) {
	params := url.Values{}
	params.Set("function", "NEWS_SENTIMENT")
	params.Set("tickers", ticker)
	params.Set("apikey", c.apiKey)

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var payload struct {
		Note        string `json:"Note"`
		Information string `json:"Information"`
		Feed        []struct {
			Title           string  `json:"title"`
			Summary         string  `json:"summary"`
			URL             string  `json:"url"`
			TimePublished   string  `json:"time_published"`
			OverallScore    float64 `json:"overall_sentiment_score"`
			TickerSentiment []struct {
				Ticker         string `json:"ticker"`
				RelevanceScore string `json:"relevance_score"`
				SentimentScore string `json:"ticker_sentiment_score"`
			} `json:"ticker_sentiment"`
		} `json:"feed"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if payload.Note != "" || payload.Information != "" {
		return nil, vendorNoteError(nil)
	}

	articles := make([]NewsArticle, 0, len(payload.Feed))
	for _, item := range payload.Feed {
		article := NewsArticle{
			Title:        item.Title,
			Summary:      item.Summary,
			URL:          item.URL,
			PublishedAt:  item.TimePublished,
			OverallScore: item.OverallScore,
		}
		for _, ts := range item.TickerSentiment {
			if ts.Ticker != ticker {
				continue
			}
			article.TickerScore, _ = strconv.ParseFloat(ts.SentimentScore, 64)
			article.TickerRelevance, _ = strconv.ParseFloat(ts.RelevanceScore, 64)
			break
		}
		articles = append(articles, article)
	}

	return articles, nil
}

func (c *Client) get(ctx context.Context, params url.Values) (io.ReadCloser, error) {
	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("vendor returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// vendorNoteError maps the vendor's in-band quota notes to the rate-limit
// refusal sentinel.
func vendorNoteError(raw []byte) error {
	var note struct {
		Note        string `json:"Note"`
		Information string `json:"Information"`
	}
	msg := "vendor quota note"
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &note); err == nil {
			if note.Note != "" {
				msg = note.Note
			} else if note.Information != "" {
				msg = note.Information
			}
		}
	}
	return fmt.Errorf("%s: %w", msg, domain.ErrRateLimited)
}

func parseCalendarCSV(r io.Reader, log zerolog.Logger) ([]CalendarEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	symbolIdx, ok := col["symbol"]
	if !ok {
		return nil, fmt.Errorf("CSV header missing symbol column")
	}
	dateIdx, ok := col["reportDate"]
	if !ok {
		return nil, fmt.Errorf("CSV header missing reportDate column")
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var entries []CalendarEntry
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if symbolIdx >= len(row) || dateIdx >= len(row) {
			skipped++
			continue
		}

		entry := CalendarEntry{
			Ticker:           strings.ToUpper(strings.TrimSpace(row[symbolIdx])),
			Name:             field(row, "name"),
			ReportDate:       strings.TrimSpace(row[dateIdx]),
			FiscalDateEnding: field(row, "fiscalDateEnding"),
			Currency:         field(row, "currency"),
		}
		if _, err := domain.ParseDate(entry.ReportDate); err != nil || entry.Ticker == "" {
			skipped++
			continue
		}
		if raw := field(row, "estimate"); raw != "" {
			if est, err := strconv.ParseFloat(raw, 64); err == nil {
				entry.Estimate = &est
			}
		}

		entries = append(entries, entry)
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("Skipped malformed calendar rows")
	}

	return entries, nil
}

// checkRateLimit consumes one unit of the daily request allowance.
func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if c.requestDate != today {
		c.requestDate = today
		c.requestCount = 0
	}

	if c.requestCount >= dailyRequestLimit {
		return ErrRateLimitExceeded{Limit: dailyRequestLimit}
	}
	c.requestCount++
	return nil
}

// GetRemainingRequests reports how many calls are left today.
func (c *Client) GetRemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if c.requestDate != today {
		return dailyRequestLimit
	}
	return dailyRequestLimit - c.requestCount
}

// ResetDailyCounter clears the daily allowance. Exposed for the nightly
// maintenance job and tests.
func (c *Client) ResetDailyCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount = 0
	c.requestDate = ""
}

func (c *Client) setCache(key string, data interface{}, ttl time.Duration) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

func (c *Client) getFromCache(key string) (interface{}, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

// ClearCache drops all cached vendor responses.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]cacheEntry)
}
