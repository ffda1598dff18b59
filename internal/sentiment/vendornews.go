package sentiment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/clients/earningscal"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
)

// Articles with no stated relevance still count, just barely.
const minRelevanceWeight = 0.1

// NewsFetcher is the vendor news-feed dependency.
type NewsFetcher interface {
	GetNewsSentiment(ctx context.Context, ticker string) ([]earningscal.NewsArticle, error)
}

// VendorNewsProvider reads the calendar vendor's own news-sentiment feed.
// It shares that vendor's daily quota, so it sits last in the fallback chain.
type VendorNewsProvider struct {
	client   NewsFetcher
	breakers *circuit.Manager
	log      zerolog.Logger
}

// NewVendorNewsProvider wires the vendor news-feed provider.
func NewVendorNewsProvider(client NewsFetcher, breakers *circuit.Manager, log zerolog.Logger) *VendorNewsProvider {
	return &VendorNewsProvider{
		client:   client,
		breakers: breakers,
		log:      log.With().Str("provider", "vendor_news").Logger(),
	}
}

// Source identifies records written by this provider.
func (p *VendorNewsProvider) Source() domain.SentimentSource {
	return domain.SourceVendorNews
}

// Fetch pulls the vendor's scored articles and collapses them into one
// relevance-weighted read.
func (p *VendorNewsProvider) Fetch(ctx context.Context, ticker, earningsDate string) (*domain.SentimentRecord, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	var articles []earningscal.NewsArticle
	err = p.breakers.Execute(ctx, VendorNewsVendor, func(ctx context.Context) error {
		var fetchErr error
		articles, fetchErr = p.client.GetNewsSentiment(ctx, normalized)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, fmt.Errorf("no news for %s: %w", normalized, domain.ErrNoData)
	}

	score := weightedArticleScore(articles)
	p.log.Debug().
		Str("ticker", normalized).
		Int("articles", len(articles)).
		Float64("score", score).
		Msg("Vendor news scored")

	return &domain.SentimentRecord{
		Ticker:       normalized,
		EarningsDate: earningsDate,
		CollectedAt:  time.Now().UTC(),
		Source:       domain.SourceVendorNews,
		Text:         summarizeArticles(articles),
		Score:        &score,
		Direction:    directionFromScore(score),
	}, nil
}

// weightedArticleScore averages per-ticker scores weighted by relevance,
// falling back to the article's overall score when the ticker-specific one
// is absent.
func weightedArticleScore(articles []earningscal.NewsArticle) float64 {
	var sum, weights float64
	for _, a := range articles {
		score := a.TickerScore
		if score == 0 {
			score = a.OverallScore
		}
		weight := a.TickerRelevance
		if weight < minRelevanceWeight {
			weight = minRelevanceWeight
		}
		sum += score * weight
		weights += weight
	}
	if weights == 0 {
		return 0
	}

	score := sum / weights
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score
}

func summarizeArticles(articles []earningscal.NewsArticle) string {
	n := min(len(articles), 3)
	lines := make([]string, 0, n)
	for _, a := range articles[:n] {
		lines = append(lines, "- "+a.Title)
	}
	return strings.Join(lines, "\n")
}
