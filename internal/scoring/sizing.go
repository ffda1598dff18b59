package scoring

// Size-modifier anchors. The adjustment is contrarian: crowded bullish
// sentiment correlates with larger tail moves against a premium seller, while
// washed-out bearish sentiment tends to be priced in already.
const (
	strongSentiment     = 0.5
	highBullishWarnBar  = 0.7
	reduceSizeModifier  = 0.90
	neutralSizeModifier = 1.00
	boostSizeModifier   = 1.10
)

// SizeAdjustment scales a baseline position for one candidate.
type SizeAdjustment struct {
	Modifier           float64 `json:"modifier"`
	HighBullishWarning bool    `json:"high_bullish_warning"`
}

// SizeModifier applies the contrarian sizing rule to a sentiment score.
func SizeModifier(sentiment float64) SizeAdjustment {
	adj := SizeAdjustment{Modifier: neutralSizeModifier}

	switch {
	case sentiment >= strongSentiment:
		adj.Modifier = reduceSizeModifier
	case sentiment <= -strongSentiment:
		adj.Modifier = boostSizeModifier
	}

	if sentiment >= highBullishWarnBar {
		adj.HighBullishWarning = true
	}
	return adj
}
