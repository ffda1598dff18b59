// Package vrp computes the volatility risk premium verdict: how expensive the
// options market prices an earnings move relative to what the stock has
// actually done. Pure computation, no I/O.
package vrp

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Evaluate compares an implied move against a ticker's historical move
// distribution. history holds absolute per-event move percentages; fewer than
// cfg.MinMoves observations yields a Skip with ratio 0. Deterministic for
// identical inputs.
func Evaluate(cfg config.VRPConfig, impliedMovePct float64, history []float64) domain.VRPResult {
	if len(history) < cfg.MinMoves {
		return domain.VRPResult{
			Tier:           domain.VRPSkip,
			Recommendation: "SKIP",
			Reason:         fmt.Sprintf("insufficient history: %d of %d moves", len(history), cfg.MinMoves),
		}
	}

	mean := stat.Mean(history, nil)
	if mean <= 0 {
		return domain.VRPResult{
			Tier:           domain.VRPSkip,
			Recommendation: "SKIP",
			Reason:         "historical mean move is zero",
		}
	}
	if impliedMovePct <= 0 {
		return domain.VRPResult{
			Tier:           domain.VRPSkip,
			Recommendation: "SKIP",
			Reason:         "implied move must be positive",
		}
	}

	ratio := impliedMovePct / mean
	edge := ratio - 1.0
	if edge < 0 {
		edge = 0
	}

	result := domain.VRPResult{
		Ratio:     ratio,
		EdgeScore: edge,
		Reason:    fmt.Sprintf("implied %.2f%% vs historical mean %.2f%% over %d events", impliedMovePct, mean, len(history)),
	}

	switch {
	case ratio >= cfg.ExcellentRatio:
		result.Tier = domain.VRPExcellent
		result.Recommendation = "SELL PREMIUM"
	case ratio >= cfg.GoodRatio:
		result.Tier = domain.VRPGood
		result.Recommendation = "SELL PREMIUM"
	case ratio >= cfg.MarginalRatio:
		result.Tier = domain.VRPMarginal
		result.Recommendation = "SMALL POSITION"
	default:
		result.Tier = domain.VRPSkip
		result.Recommendation = "SKIP"
	}

	return result
}
