// Package liquidity grades option quotes on three axes: open interest,
// volume, and bid-ask spread as a percentage of mid. The combined grade is
// the worst axis, because one thin axis is enough to make a fill expensive.
// Pure computation, no I/O.
package liquidity

import (
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// missingQuoteSpreadPct stands in when a bid or ask is absent. A quote we
// cannot price is treated as a 100% spread, which rejects the spread axis.
const missingQuoteSpreadPct = 100.0

// Assessment explains how one quote earned its tier.
type Assessment struct {
	Tier       domain.LiquidityTier `json:"tier"`
	OITier     domain.LiquidityTier `json:"oi_tier"`
	VolumeTier domain.LiquidityTier `json:"volume_tier"`
	SpreadTier domain.LiquidityTier `json:"spread_tier"`
	SpreadPct  float64              `json:"spread_pct"`
}

// Grade classifies a single option quote. Each axis is graded independently
// against the configured thresholds and the final tier is the worst of the
// three.
func Grade(cfg config.LiquidityConfig, q domain.OptionQuote) Assessment {
	a := Assessment{
		OITier:     gradeCount(q.OpenInterest, cfg.OIExcellent, cfg.OIGood, cfg.OIWarning),
		VolumeTier: gradeCount(q.Volume, cfg.VolExcellent, cfg.VolGood, cfg.VolWarning),
	}

	a.SpreadPct = SpreadPct(q)
	a.SpreadTier = gradeSpread(a.SpreadPct, cfg.SpreadExcellent, cfg.SpreadGood, cfg.SpreadWarning)

	a.Tier = domain.WorseLiquidity(a.OITier, domain.WorseLiquidity(a.VolumeTier, a.SpreadTier))
	return a
}

// GradeStraddle grades a call/put pair. A straddle fills at the worse leg, so
// the pair's tier is the worse of the two.
func GradeStraddle(cfg config.LiquidityConfig, call, put domain.OptionQuote) Assessment {
	callA := Grade(cfg, call)
	putA := Grade(cfg, put)

	if domain.WorseLiquidity(callA.Tier, putA.Tier) == callA.Tier {
		return callA
	}
	return putA
}

// SpreadPct returns the bid-ask spread as a percentage of mid. A missing bid
// or ask yields the synthetic 100% spread.
func SpreadPct(q domain.OptionQuote) float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return missingQuoteSpreadPct
	}
	mid := q.Mid()
	if mid <= 0 {
		return missingQuoteSpreadPct
	}
	return (q.Ask - q.Bid) / mid * 100
}

// Score maps a tier to its composite-score contribution on a 0-20 scale.
// Reject is deliberately non-zero: some reject-tier trades still print, and
// the composite scorer decides whether to keep them.
func Score(tier domain.LiquidityTier) float64 {
	switch tier {
	case domain.LiquidityExcellent:
		return 20
	case domain.LiquidityGood:
		return 16
	case domain.LiquidityWarning:
		return 12
	default:
		return 4
	}
}

func gradeCount(v, excellent, good, warning int64) domain.LiquidityTier {
	switch {
	case v >= excellent:
		return domain.LiquidityExcellent
	case v >= good:
		return domain.LiquidityGood
	case v >= warning:
		return domain.LiquidityWarning
	default:
		return domain.LiquidityReject
	}
}

func gradeSpread(pct, excellent, good, warning float64) domain.LiquidityTier {
	switch {
	case pct <= excellent:
		return domain.LiquidityExcellent
	case pct <= good:
		return domain.LiquidityGood
	case pct <= warning:
		return domain.LiquidityWarning
	default:
		return domain.LiquidityReject
	}
}
