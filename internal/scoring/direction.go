package scoring

import (
	"math"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Rule names reported in DirectionAdjustment.Rule.
const (
	RuleSentimentTiebreak = "sentiment_tiebreak" // Neutral skew, sentiment decides
	RuleBothNeutral       = "both_neutral"       // Neutral skew, weak sentiment
	RuleConflictHedge     = "conflict_hedge"     // Skew and sentiment disagree
	RuleSkewKept          = "skew_kept"          // Skew stands, sentiment agrees or is silent
)

// sentimentSignalFloor is the |score| below which sentiment is noise.
const sentimentSignalFloor = 0.2

// BiasFromSkew buckets a raw skew value into the seven-level bias.
// Skew is (call mid - put mid) / straddle cost, bounded to [-1, 1]:
// positive means calls are bid over puts.
func BiasFromSkew(skew float64) domain.SkewBias {
	abs := math.Abs(skew)
	bullish := skew > 0

	switch {
	case abs < 0.15:
		return domain.SkewNeutral
	case abs < 0.3:
		if bullish {
			return domain.SkewLeanBullish
		}
		return domain.SkewLeanBearish
	case abs <= 0.5:
		if bullish {
			return domain.SkewBullish
		}
		return domain.SkewBearish
	default:
		if bullish {
			return domain.SkewStrongBullish
		}
		return domain.SkewStrongBearish
	}
}

// AdjustDirection reconciles the chain's skew bias with the sentiment score.
// Three rules, first match wins:
//
//  1. Neutral skew: sentiment breaks the tie when it clears the signal floor.
//  2. Skew and sentiment on opposite sides: collapse to neutral and hedge.
//  3. Otherwise the skew-driven bias stands.
//
// Confidence grows with |sentiment| and with agreement between the signals.
func AdjustDirection(bias domain.SkewBias, sentiment float64) domain.DirectionAdjustment {
	abs := math.Abs(sentiment)
	skewDir := bias.Direction()

	if skewDir == domain.DirectionNeutral {
		if abs >= sentimentSignalFloor {
			dir := domain.DirectionBullish
			if sentiment < 0 {
				dir = domain.DirectionBearish
			}
			return domain.DirectionAdjustment{
				Direction:  dir,
				Rule:       RuleSentimentTiebreak,
				Confidence: clamp01(abs),
			}
		}
		return domain.DirectionAdjustment{
			Direction:  domain.DirectionNeutral,
			Rule:       RuleBothNeutral,
			Confidence: 0.3,
		}
	}

	conflict := (skewDir == domain.DirectionBullish && sentiment <= -sentimentSignalFloor) ||
		(skewDir == domain.DirectionBearish && sentiment >= sentimentSignalFloor)
	if conflict {
		return domain.DirectionAdjustment{
			Direction:  domain.DirectionNeutral,
			Rule:       RuleConflictHedge,
			Confidence: 0.25,
		}
	}

	confidence := 0.6
	aligned := (skewDir == domain.DirectionBullish && sentiment >= sentimentSignalFloor) ||
		(skewDir == domain.DirectionBearish && sentiment <= -sentimentSignalFloor)
	if aligned {
		confidence = clamp01(0.6 + 0.4*abs)
	}

	return domain.DirectionAdjustment{
		Direction:  skewDir,
		Rule:       RuleSkewKept,
		Confidence: confidence,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
