package vrp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

func defaultVRP() config.VRPConfig {
	return config.VRPConfig{
		MinMoves:       4,
		ExcellentRatio: 2.0,
		GoodRatio:      1.5,
		MarginalRatio:  1.2,
	}
}

func TestEvaluateTiers(t *testing.T) {
	history := []float64{4, 4, 4, 4} // mean 4.0

	tests := []struct {
		name      string
		implied   float64
		wantTier  domain.VRPTier
		wantRatio float64
		wantRec   string
	}{
		{"double implied is excellent", 8.0, domain.VRPExcellent, 2.0, "SELL PREMIUM"},
		{"1.5x is good", 6.0, domain.VRPGood, 1.5, "SELL PREMIUM"},
		{"1.2x is marginal", 4.8, domain.VRPMarginal, 1.2, "SMALL POSITION"},
		{"1.1x is a skip", 4.4, domain.VRPSkip, 1.1, "SKIP"},
		{"below break-even is a skip", 3.0, domain.VRPSkip, 0.75, "SKIP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(defaultVRP(), tt.implied, history)
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.InDelta(t, tt.wantRatio, got.Ratio, 1e-9)
			assert.Equal(t, tt.wantRec, got.Recommendation)
		})
	}
}

func TestEvaluateEdgeScore(t *testing.T) {
	history := []float64{5, 5, 5, 5}

	// Edge is the premium above break-even, floored at zero.
	assert.InDelta(t, 1.0, Evaluate(defaultVRP(), 10.0, history).EdgeScore, 1e-9)
	assert.InDelta(t, 0.2, Evaluate(defaultVRP(), 6.0, history).EdgeScore, 1e-9)
	assert.Equal(t, 0.0, Evaluate(defaultVRP(), 4.0, history).EdgeScore)
	assert.Equal(t, 0.0, Evaluate(defaultVRP(), 2.0, history).EdgeScore)
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	got := Evaluate(defaultVRP(), 8.0, []float64{4, 4, 4})

	assert.Equal(t, domain.VRPSkip, got.Tier)
	assert.Equal(t, 0.0, got.Ratio)
	assert.Equal(t, 0.0, got.EdgeScore)
	assert.Contains(t, got.Reason, "insufficient history")
}

func TestEvaluateDegenerateInputs(t *testing.T) {
	assert.Equal(t, domain.VRPSkip, Evaluate(defaultVRP(), 8.0, []float64{0, 0, 0, 0}).Tier)
	assert.Equal(t, domain.VRPSkip, Evaluate(defaultVRP(), 0, []float64{4, 4, 4, 4}).Tier)
	assert.Equal(t, domain.VRPSkip, Evaluate(defaultVRP(), -3, []float64{4, 4, 4, 4}).Tier)
}

func TestEvaluateDeterministic(t *testing.T) {
	history := []float64{3.2, 5.1, 4.4, 6.0, 2.8}

	first := Evaluate(defaultVRP(), 9.5, history)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(defaultVRP(), 9.5, history))
	}
}
