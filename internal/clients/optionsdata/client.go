// Package optionsdata fetches option chains, quotes, and daily history from
// the options-data vendor's REST API, and derives the ATM-straddle implied
// move from a chain.
package optionsdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

const (
	// Hard vendor limit on symbols per quotes call. Larger batches are
	// split transparently.
	maxBatchSymbols = 100

	maxRetries = 3
)

// retryBaseWait is the backoff unit; tests shrink it.
var retryBaseWait = time.Second

var errBodyTooLarge = errors.New("response body exceeds size cap")

// Client for the options-data vendor.
type Client struct {
	apiKey      string
	baseURL     string
	maxBodySize int64
	client      *http.Client
	log         zerolog.Logger
}

// NewClient creates a new options-data client.
func NewClient(cfg config.OptionsConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 8 << 20
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxBodySize: maxBody,
		client:      &http.Client{Timeout: timeout},
		log:         log.With().Str("client", "optionsdata").Logger(),
	}
}

// quote is one row of the vendor's quotes response.
type quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

// quoteList tolerates the vendor's habit of returning a bare object when a
// single symbol is requested and an array otherwise.
type quoteList []quote

func (q *quoteList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]quote)(q))
	}
	var single quote
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*q = quoteList{single}
	return nil
}

type historyDay struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// dayList has the same single-vs-array quirk as quoteList.
type dayList []historyDay

func (d *dayList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]historyDay)(d))
	}
	var single historyDay
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*d = dayList{single}
	return nil
}

type chainOption struct {
	Strike       float64 `json:"strike"`
	OptionType   string  `json:"option_type"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	OpenInterest int64   `json:"open_interest"`
	Volume       int64   `json:"volume"`
}

// GetExpirations lists option expiration dates for a ticker, nearest first.
func (c *Client) GetExpirations(ctx context.Context, ticker string) ([]string, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", normalized)

	data, err := c.fetch(ctx, "/markets/options/expirations", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Expirations struct {
			Date []string `json:"date"`
		} `json:"expirations"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse expirations: %w", err)
	}
	if len(payload.Expirations.Date) == 0 {
		return nil, fmt.Errorf("no expirations for %s: %w", normalized, domain.ErrNoData)
	}

	dates := payload.Expirations.Date
	sort.Strings(dates)
	return dates, nil
}

// GetOptionChain fetches one expiration's chain. The underlying quote is
// fetched first so the chain carries its spot price.
func (c *Client) GetOptionChain(ctx context.Context, ticker, expiration string) (*domain.OptionChain, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseDate(expiration); err != nil {
		return nil, err
	}

	price, err := c.GetStockPrice(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying price: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", normalized)
	params.Set("expiration", expiration)

	data, err := c.fetch(ctx, "/markets/options/chains", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Options struct {
			Option []chainOption `json:"option"`
		} `json:"options"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse chain: %w", err)
	}
	if len(payload.Options.Option) == 0 {
		return nil, fmt.Errorf("empty chain for %s %s: %w", normalized, expiration, domain.ErrNoData)
	}

	chain := &domain.OptionChain{
		Ticker:          normalized,
		Expiration:      expiration,
		UnderlyingPrice: price,
	}
	for _, opt := range payload.Options.Option {
		q := domain.OptionQuote{
			Strike:       opt.Strike,
			Bid:          opt.Bid,
			Ask:          opt.Ask,
			OpenInterest: opt.OpenInterest,
			Volume:       opt.Volume,
		}
		switch opt.OptionType {
		case "call":
			chain.Calls = append(chain.Calls, q)
		case "put":
			chain.Puts = append(chain.Puts, q)
		}
	}
	sort.Slice(chain.Calls, func(i, j int) bool { return chain.Calls[i].Strike < chain.Calls[j].Strike })
	sort.Slice(chain.Puts, func(i, j int) bool { return chain.Puts[i].Strike < chain.Puts[j].Strike })

	c.log.Debug().
		Str("ticker", normalized).
		Str("expiration", expiration).
		Int("calls", len(chain.Calls)).
		Int("puts", len(chain.Puts)).
		Msg("Fetched option chain")

	return chain, nil
}

// GetStockPrice returns the last trade price for one ticker.
func (c *Client) GetStockPrice(ctx context.Context, ticker string) (float64, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return 0, err
	}

	prices, err := c.quoteBatch(ctx, []string{normalized})
	if err != nil {
		return 0, err
	}
	price, ok := prices[normalized]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("no quote for %s: %w", normalized, domain.ErrNoData)
	}
	return price, nil
}

// GetStockPricesBatch returns last trade prices for many tickers. Batches
// above the vendor's per-call symbol limit are split; symbols the vendor does
// not know are absent from the result rather than an error.
func (c *Client) GetStockPricesBatch(ctx context.Context, tickers []string) (map[string]float64, error) {
	if len(tickers) == 0 {
		return map[string]float64{}, nil
	}

	normalized := make([]string, 0, len(tickers))
	for _, t := range tickers {
		n, err := domain.NormalizeTicker(t)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}

	prices := make(map[string]float64, len(normalized))
	for start := 0; start < len(normalized); start += maxBatchSymbols {
		end := min(start+maxBatchSymbols, len(normalized))
		batch, err := c.quoteBatch(ctx, normalized[start:end])
		if err != nil {
			return nil, err
		}
		for symbol, price := range batch {
			prices[symbol] = price
		}
	}

	return prices, nil
}

// GetDailyHistory returns daily OHLCV bars for [start, end], oldest first.
func (c *Client) GetDailyHistory(ctx context.Context, ticker, start, end string) ([]domain.PriceBar, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseDate(start); err != nil {
		return nil, err
	}
	if _, err := domain.ParseDate(end); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", normalized)
	params.Set("interval", "daily")
	params.Set("start", start)
	params.Set("end", end)

	data, err := c.fetch(ctx, "/markets/history", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		History *struct {
			Day dayList `json:"day"`
		} `json:"history"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	if payload.History == nil || len(payload.History.Day) == 0 {
		return nil, fmt.Errorf("no history for %s: %w", normalized, domain.ErrNoData)
	}

	bars := make([]domain.PriceBar, 0, len(payload.History.Day))
	for _, day := range payload.History.Day {
		bars = append(bars, domain.PriceBar{
			Date:   day.Date,
			Open:   day.Open,
			High:   day.High,
			Low:    day.Low,
			Close:  day.Close,
			Volume: day.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })

	return bars, nil
}

func (c *Client) quoteBatch(ctx context.Context, symbols []string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))

	data, err := c.fetch(ctx, "/markets/quotes", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Quotes struct {
			Quote quoteList `json:"quote"`
		} `json:"quotes"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse quotes: %w", err)
	}

	prices := make(map[string]float64, len(payload.Quotes.Quote))
	for _, q := range payload.Quotes.Quote {
		if q.Symbol != "" && q.Last > 0 {
			prices[q.Symbol] = q.Last
		}
	}
	return prices, nil
}

// statusError marks an HTTP status worth retrying apart from transport
// failures.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("vendor returned status %d", e.code)
}

func retryable(err error) bool {
	var se statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, errBodyTooLarge) {
		return false
	}
	var ve *domain.ValidationError
	return !errors.As(err, &ve)
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := c.fetchOnce(ctx, path, params)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !retryable(err) {
				return nil, err
			}
			if attempt < maxRetries-1 {
				waitTime := time.Duration(1<<uint(attempt)) * retryBaseWait
				c.log.Warn().Err(err).
					Str("path", path).
					Int("attempt", attempt+1).
					Dur("wait", waitTime).
					Msg("Request failed, retrying")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(waitTime):
				}
				continue
			}
			break
		}
		return data, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("vendor throttled request: %w", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, statusError{code: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("vendor returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > c.maxBodySize {
		return nil, fmt.Errorf("%w (%d bytes)", errBodyTooLarge, c.maxBodySize)
	}

	return data, nil
}
