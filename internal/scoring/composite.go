// Package scoring turns a candidate's raw signals into a single 0-100
// composite, a direction call, and a position-size modifier. Every function
// here is pure; the pipeline owns all I/O.
package scoring

import (
	"math"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Inputs are the signals feeding one composite score. Sentiment is optional;
// a candidate without an enrichment scores on the other four axes alone.
type Inputs struct {
	VRPRatio      float64
	Consistency   float64
	LiquidityTier domain.LiquidityTier
	SkewValue     float64
}

// Score is the weighted verdict plus the per-axis subscores that produced it.
type Score struct {
	Composite        float64 `json:"composite"`
	Tradeable        bool    `json:"tradeable"`
	VRPScore         float64 `json:"vrp_score"`
	ConsistencyScore float64 `json:"consistency_score"`
	LiquidityScore   float64 `json:"liquidity_score"`
	SkewScore        float64 `json:"skew_score"`
}

// Composite maps raw signals onto [0, 100]. Each axis is normalized through
// its piecewise-linear curve, then combined by the configured weights and
// rounded to one decimal.
func Composite(cfg config.ScoringConfig, in Inputs) Score {
	s := Score{
		VRPScore:         vrpScore(in.VRPRatio),
		ConsistencyScore: consistencyScore(in.Consistency),
		LiquidityScore:   liquidityScore(in.LiquidityTier),
		SkewScore:        skewScore(in.SkewValue),
	}

	weighted := cfg.WeightVRP*s.VRPScore +
		cfg.WeightConsistency*s.ConsistencyScore +
		cfg.WeightLiquidity*s.LiquidityScore +
		cfg.WeightSkew*s.SkewScore

	s.Composite = math.Round(weighted*10) / 10
	s.Tradeable = s.Composite >= cfg.TradeableCutoff
	return s
}

// vrpScore anchors: ratio 1.0 scores 0, 1.2 scores 50, 1.5 scores 75 and 2.0
// scores 100, linear between anchors, clamped outside.
func vrpScore(ratio float64) float64 {
	switch {
	case ratio >= 2.0:
		return 100
	case ratio >= 1.5:
		return interpolate(ratio, 1.5, 75, 2.0, 100)
	case ratio >= 1.2:
		return interpolate(ratio, 1.2, 50, 1.5, 75)
	case ratio >= 1.0:
		return interpolate(ratio, 1.0, 0, 1.2, 50)
	default:
		return 0
	}
}

// consistencyScore anchors: 0.4 scores 50, 0.6 scores 75, 0.8 and above
// score 100; below 0.4 the distribution is too ragged to reward.
func consistencyScore(c float64) float64 {
	switch {
	case c >= 0.8:
		return 100
	case c >= 0.6:
		return interpolate(c, 0.6, 75, 0.8, 100)
	case c >= 0.4:
		return interpolate(c, 0.4, 50, 0.6, 75)
	default:
		return 0
	}
}

// liquidityScore rescales the 0-20 tier table onto 0-100.
func liquidityScore(tier domain.LiquidityTier) float64 {
	switch tier {
	case domain.LiquidityExcellent:
		return 100
	case domain.LiquidityGood:
		return 80
	case domain.LiquidityWarning:
		return 60
	default:
		return 20
	}
}

// skewScore rewards a balanced chain. |skew| up to 0.15 is full marks, then
// the score decays linearly, passing ~50 at 0.5 and bottoming out at 0.
func skewScore(skew float64) float64 {
	abs := math.Abs(skew)
	if abs <= 0.15 {
		return 100
	}
	score := 100 - (abs-0.15)*(50/0.35)
	if score < 0 {
		return 0
	}
	return score
}

func interpolate(x, x0, y0, x1, y1 float64) float64 {
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}
