package sentiment

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/clients/websearch"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
)

// Headline tone lexicon. Deliberately small: headlines repeat a narrow
// vocabulary, and a short list keeps false positives rare.
var (
	bullishWords = map[string]bool{
		"beat": true, "beats": true, "strong": true, "record": true,
		"upgrade": true, "upgraded": true, "raised": true, "raises": true,
		"growth": true, "surge": true, "surges": true, "rally": true,
		"outperform": true, "buy": true, "bullish": true, "tops": true,
	}
	bearishWords = map[string]bool{
		"miss": true, "misses": true, "missed": true, "weak": true,
		"downgrade": true, "downgraded": true, "cut": true, "cuts": true,
		"decline": true, "drop": true, "drops": true, "plunge": true,
		"plunges": true, "warning": true, "sell": true, "bearish": true,
		"lawsuit": true, "slump": true,
	}
)

var wordPattern = regexp.MustCompile(`[a-z]+`)

// Searcher is the web-search dependency.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]websearch.Result, error)
}

// WebSearchProvider scores recent headlines with a keyword lexicon. Free, so
// it is the fallback when the paid budget refuses; the read is coarser but
// costs nothing.
type WebSearchProvider struct {
	client   Searcher
	breakers *circuit.Manager
	limit    int
	log      zerolog.Logger
}

// NewWebSearchProvider wires the free headline-scoring provider.
func NewWebSearchProvider(client Searcher, breakers *circuit.Manager, log zerolog.Logger) *WebSearchProvider {
	return &WebSearchProvider{
		client:   client,
		breakers: breakers,
		limit:    10,
		log:      log.With().Str("provider", "web_search").Logger(),
	}
}

// Source identifies records written by this provider.
func (p *WebSearchProvider) Source() domain.SentimentSource {
	return domain.SourceWebSearch
}

// Fetch searches for recent coverage and scores the headline tone.
func (p *WebSearchProvider) Fetch(ctx context.Context, ticker, earningsDate string) (*domain.SentimentRecord, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("%s stock earnings outlook", normalized)

	var results []websearch.Result
	err = p.breakers.Execute(ctx, VendorWebSearch, func(ctx context.Context) error {
		var searchErr error
		results, searchErr = p.client.Search(ctx, query, p.limit)
		return searchErr
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no coverage found for %s: %w", normalized, domain.ErrNoData)
	}

	score := scoreHeadlines(results)
	text := summarizeResults(results)
	p.log.Debug().
		Str("ticker", normalized).
		Int("results", len(results)).
		Float64("score", score).
		Msg("Headline sentiment scored")

	return &domain.SentimentRecord{
		Ticker:       normalized,
		EarningsDate: earningsDate,
		CollectedAt:  time.Now().UTC(),
		Source:       domain.SourceWebSearch,
		Text:         text,
		Score:        &score,
		Direction:    directionFromScore(score),
	}, nil
}

// scoreHeadlines counts lexicon hits over titles and snippets and maps the
// imbalance to [-1, 1].
func scoreHeadlines(results []websearch.Result) float64 {
	var bullish, bearish int
	for _, r := range results {
		for _, word := range wordPattern.FindAllString(strings.ToLower(r.Title+" "+r.Content), -1) {
			switch {
			case bullishWords[word]:
				bullish++
			case bearishWords[word]:
				bearish++
			}
		}
	}

	total := bullish + bearish
	if total == 0 {
		return 0
	}
	return float64(bullish-bearish) / float64(total)
}

// summarizeResults joins the top headlines into the stored audit text.
func summarizeResults(results []websearch.Result) string {
	n := min(len(results), 3)
	lines := make([]string, 0, n)
	for _, r := range results[:n] {
		lines = append(lines, "- "+r.Title)
	}
	return strings.Join(lines, "\n")
}
