// Package sentiment owns pre-earnings sentiment end to end: the loose parser
// for AI responses, the hot cache and permanent history stores, the provider
// implementations, and the acquire/council service the pipeline and webhook
// commands call.
package sentiment

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// Analysis is the structured block parsed out of a free-text response.
type Analysis struct {
	Direction domain.Direction `json:"direction"`
	Score     float64          `json:"score"` // [-1, +1]
	Catalysts string           `json:"catalysts"`
	Risks     string           `json:"risks"`
}

// Model responses drift: labels move, casing changes, markdown sneaks in.
// Each field is matched independently and missing fields take defaults, so a
// half-formed response still yields a usable neutral analysis.
var (
	directionPattern = regexp.MustCompile(`(?im)^[\s*#>-]*direction\s*\**\s*:\s*\**\s*(bullish|bearish|neutral)`)
	scorePattern     = regexp.MustCompile(`(?im)^[\s*#>-]*score\s*\**\s*:\s*\**\s*([+-]?\d*\.?\d+)`)
	catalystsPattern = regexp.MustCompile(`(?im)^[\s*#>-]*catalysts?\s*\**\s*:\s*\**\s*(.+)$`)
	risksPattern     = regexp.MustCompile(`(?im)^[\s*#>-]*risks?\s*\**\s*:\s*\**\s*(.+)$`)
)

// ParseAnalysis extracts {direction, score, catalysts, risks} from model
// text. All fields are optional; absent fields default to
// {neutral, 0.0, "", ""}. Scores are clamped to [-1, +1].
func ParseAnalysis(text string) Analysis {
	a := Analysis{Direction: domain.DirectionNeutral}

	if m := directionPattern.FindStringSubmatch(text); m != nil {
		a.Direction = domain.ParseDirection(strings.ToLower(m[1]))
	}

	if m := scorePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			a.Score = clampScore(v)
		}
	}

	if m := catalystsPattern.FindStringSubmatch(text); m != nil {
		a.Catalysts = cleanField(m[1])
	}
	if m := risksPattern.FindStringSubmatch(text); m != nil {
		a.Risks = cleanField(m[1])
	}

	return a
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func cleanField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*"))
}
