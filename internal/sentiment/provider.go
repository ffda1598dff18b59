package sentiment

import (
	"context"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Vendor names used for rate limiters and circuit breakers. The composition
// root registers limits under the same names.
const (
	VendorAnthropic  = "anthropic"
	VendorWebSearch  = "websearch"
	VendorNewsVendor = "vendornews"
)

// Provider produces one sentiment read for a ticker ahead of its earnings
// date. Implementations own their vendor's pacing (limiter + breaker); they
// do not touch the budget ledger, which belongs to the Service.
type Provider interface {
	Source() domain.SentimentSource
	Fetch(ctx context.Context, ticker, earningsDate string) (*domain.SentimentRecord, error)
}

// directionFromScore buckets a numeric score the same way the adjustment
// rules treat sentiment: below the signal floor it is noise.
func directionFromScore(score float64) domain.Direction {
	switch {
	case score >= 0.2:
		return domain.DirectionBullish
	case score <= -0.2:
		return domain.DirectionBearish
	default:
		return domain.DirectionNeutral
	}
}
