// Package domain provides core domain models and types.
package domain

import "time"

// EarningsEvent is one upcoming (or past) earnings report on the calendar.
// Identified by (Ticker, ReportDate); calendar syncs only ever update the
// timing/confirmation fields.
type EarningsEvent struct {
	Ticker     string    `json:"ticker"`
	ReportDate string    `json:"report_date"` // YYYY-MM-DD
	Timing     Timing    `json:"timing"`
	Confirmed  bool      `json:"confirmed"`
	SourceID   string    `json:"source_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HistoricalMove is one realized earnings reaction for a ticker.
// Rows are immutable once written except through an explicit recompute.
type HistoricalMove struct {
	Ticker          string  `json:"ticker"`
	EarningsDate    string  `json:"earnings_date"` // YYYY-MM-DD
	PrevClose       float64 `json:"prev_close"`
	ReactionOpen    float64 `json:"reaction_open"`
	ReactionHigh    float64 `json:"reaction_high"`
	ReactionLow     float64 `json:"reaction_low"`
	ReactionClose   float64 `json:"reaction_close"`
	GapMovePct      float64 `json:"gap_move_pct"`
	IntradayMovePct float64 `json:"intraday_move_pct"`
	CloseMovePct    float64 `json:"close_move_pct"`
	VolumeBefore    int64   `json:"volume_before"`
	VolumeReaction  int64   `json:"volume_reaction"`
}

// OptionQuote is a single option quote off a chain.
type OptionQuote struct {
	Strike       float64 `json:"strike"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	OpenInterest int64   `json:"open_interest"`
	Volume       int64   `json:"volume"`
}

// Mid returns the bid/ask midpoint, 0 when either side is missing.
func (q OptionQuote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// OptionChain holds one expiration's calls and puts for a ticker.
type OptionChain struct {
	Ticker          string        `json:"ticker"`
	Expiration      string        `json:"expiration"` // YYYY-MM-DD
	UnderlyingPrice float64       `json:"underlying_price"`
	Calls           []OptionQuote `json:"calls"`
	Puts            []OptionQuote `json:"puts"`
}

// ImpliedMove is the ATM-straddle read of the move priced into a chain.
// Derived on demand, never stored; iv_log keeps observations of it.
type ImpliedMove struct {
	Ticker         string  `json:"ticker"`
	Expiration     string  `json:"expiration"`
	ATMStrike      float64 `json:"atm_strike"`
	CallMid        float64 `json:"call_mid"`
	PutMid         float64 `json:"put_mid"`
	StraddleCost   float64 `json:"straddle_cost"`
	ImpliedMovePct float64 `json:"implied_move_pct"`
	UpperBound     float64 `json:"upper_bound"`
	LowerBound     float64 `json:"lower_bound"`
}

// VRPTier buckets a volatility risk premium ratio.
type VRPTier string

const (
	VRPExcellent VRPTier = "excellent"
	VRPGood      VRPTier = "good"
	VRPMarginal  VRPTier = "marginal"
	VRPSkip      VRPTier = "skip"
)

// VRPResult is the volatility-risk-premium verdict for one candidate.
type VRPResult struct {
	Ratio          float64 `json:"ratio"`
	Tier           VRPTier `json:"tier"`
	EdgeScore      float64 `json:"edge_score"`
	Recommendation string  `json:"recommendation"`
	Reason         string  `json:"reason,omitempty"`
}

// SentimentRecord joins a pre-earnings sentiment read to its eventual
// outcome. One row per (Ticker, EarningsDate); outcome fields are filled
// exactly once by the outcome recorder.
type SentimentRecord struct {
	Ticker            string           `json:"ticker"`
	EarningsDate      string           `json:"earnings_date"` // YYYY-MM-DD
	CollectedAt       time.Time        `json:"collected_at"`
	Source            SentimentSource  `json:"source"`
	Text              string           `json:"text"`
	Score             *float64         `json:"score,omitempty"` // [-1, +1]
	Direction         Direction        `json:"direction"`
	VRPRatio          *float64         `json:"vrp_ratio,omitempty"`
	ImpliedMovePct    *float64         `json:"implied_move_pct,omitempty"`
	ActualMovePct     *float64         `json:"actual_move_pct,omitempty"`
	ActualDirection   *ActualDirection `json:"actual_direction,omitempty"`
	PredictionCorrect *bool            `json:"prediction_correct,omitempty"`
	TradeOutcome      *TradeOutcome    `json:"trade_outcome,omitempty"`
}

// DirectionAdjustment is the output of the sentiment-adjusted direction rules.
type DirectionAdjustment struct {
	Direction  Direction `json:"direction"`
	Rule       string    `json:"rule"`
	Confidence float64   `json:"confidence"` // [0, 1]
}

// CouncilRow is one provider's vote in a council run.
type CouncilRow struct {
	Source    SentimentSource `json:"source"`
	Direction Direction       `json:"direction"`
	Score     float64         `json:"score"`
	Summary   string          `json:"summary,omitempty"`
	Err       string          `json:"error,omitempty"`
}

// CouncilResult aggregates every configured sentiment source for one ticker.
type CouncilResult struct {
	Ticker       string       `json:"ticker"`
	EarningsDate string       `json:"earnings_date,omitempty"`
	Rows         []CouncilRow `json:"rows"`
	Consensus    Direction    `json:"consensus"`
	AvgScore     float64      `json:"avg_score"`
	Confidence   float64      `json:"confidence"`
	SizeModifier float64      `json:"size_modifier"`
}

// PriceBar is one daily OHLCV bar from the options-data vendor.
type PriceBar struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}
