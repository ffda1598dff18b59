package domain

// Timing represents when a company reports relative to the trading session.
type Timing string

const (
	TimingBMO     Timing = "BMO" // Before market open
	TimingAMC     Timing = "AMC" // After market close
	TimingDMH     Timing = "DMH" // During market hours
	TimingUnknown Timing = "UNKNOWN"
)

// Direction represents a predicted or sentiment-derived direction
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
	DirectionUnknown Direction = "unknown"
)

// ParseDirection maps free text to a Direction, defaulting to Unknown.
// Vendor responses are never trusted to spell the value exactly.
func ParseDirection(s string) Direction {
	switch s {
	case "bullish", "Bullish", "BULLISH":
		return DirectionBullish
	case "bearish", "Bearish", "BEARISH":
		return DirectionBearish
	case "neutral", "Neutral", "NEUTRAL":
		return DirectionNeutral
	default:
		return DirectionUnknown
	}
}

// ActualDirection is the realized post-earnings direction.
type ActualDirection string

const (
	ActualUp   ActualDirection = "up"
	ActualDown ActualDirection = "down"
)

// TradeOutcome labels how a recorded candidate played out for a premium seller.
type TradeOutcome string

const (
	OutcomeWin  TradeOutcome = "win"
	OutcomeLoss TradeOutcome = "loss"
	OutcomeSkip TradeOutcome = "skip"
)

// SentimentSource identifies where a sentiment record came from.
type SentimentSource string

const (
	SourcePaidAI     SentimentSource = "paid_ai"
	SourceWebSearch  SentimentSource = "web_search"
	SourceVendorNews SentimentSource = "vendor_news"
	SourceManual     SentimentSource = "manual"
)

// SkewBias is the seven-level ordered read of the option-chain volatility skew.
type SkewBias string

const (
	SkewStrongBearish SkewBias = "strong_bearish"
	SkewBearish       SkewBias = "bearish"
	SkewLeanBearish   SkewBias = "lean_bearish"
	SkewNeutral       SkewBias = "neutral"
	SkewLeanBullish   SkewBias = "lean_bullish"
	SkewBullish       SkewBias = "bullish"
	SkewStrongBullish SkewBias = "strong_bullish"
)

// IsBullish reports whether the bias sits on the bullish side of neutral.
func (s SkewBias) IsBullish() bool {
	return s == SkewLeanBullish || s == SkewBullish || s == SkewStrongBullish
}

// IsBearish reports whether the bias sits on the bearish side of neutral.
func (s SkewBias) IsBearish() bool {
	return s == SkewLeanBearish || s == SkewBearish || s == SkewStrongBearish
}

// Direction collapses the seven levels into the three-level Direction used
// by the adjusted-direction rules.
func (s SkewBias) Direction() Direction {
	switch {
	case s.IsBullish():
		return DirectionBullish
	case s.IsBearish():
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

// LiquidityTier classifies option liquidity. Ordering matters: the combined
// tier of several axes is always the worst one.
type LiquidityTier string

const (
	LiquidityExcellent LiquidityTier = "excellent"
	LiquidityGood      LiquidityTier = "good"
	LiquidityWarning   LiquidityTier = "warning"
	LiquidityReject    LiquidityTier = "reject"
)

// liquidityRank orders tiers best-to-worst for the worst-of combine.
var liquidityRank = map[LiquidityTier]int{
	LiquidityExcellent: 0,
	LiquidityGood:      1,
	LiquidityWarning:   2,
	LiquidityReject:    3,
}

// WorseLiquidity returns the worse of two tiers.
func WorseLiquidity(a, b LiquidityTier) LiquidityTier {
	if liquidityRank[a] >= liquidityRank[b] {
		return a
	}
	return b
}
