// Package websearch queries a self-hosted metasearch instance for recent
// headlines. It is the free fallback when the paid sentiment budget is
// exhausted, so it carries no API key and no per-call cost.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
)

const maxRetries = 3

// retryBaseWait is the backoff unit; tests shrink it.
var retryBaseWait = time.Second

// Result is one search hit. Content carries the snippet the sentiment
// lexicon scores.
type Result struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Client for a SearxNG-compatible search endpoint.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a search client. An empty base URL disables the client;
// callers should check config.WebSearchConfig.Enabled first.
func NewClient(cfg config.WebSearchConfig, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "websearch").Logger(),
	}
}

// Search runs a query and returns up to limit results.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("no search endpoint configured")
	}
	if limit <= 0 {
		limit = 10
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		results, err := c.search(ctx, query)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < maxRetries-1 {
				waitTime := time.Duration(1<<uint(attempt)) * retryBaseWait
				c.log.Warn().Err(err).
					Str("query", query).
					Int("attempt", attempt+1).
					Dur("wait", waitTime).
					Msg("Search failed, retrying")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(waitTime):
				}
				continue
			}
			break
		}

		if len(results) > limit {
			results = results[:limit]
		}
		c.log.Debug().
			Str("query", query).
			Int("results", len(results)).
			Msg("Search completed")
		return results, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) search(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return payload.Results, nil
}
