package jobs

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pmak99/trading-desk-public-sub003/internal/budget"
	"github.com/pmak99/trading-desk-public-sub003/internal/cache"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
	"github.com/pmak99/trading-desk-public-sub003/internal/scoring"
)

// afterHoursLine is one tracked ticker reporting after today's close.
type afterHoursLine struct {
	Ticker         string
	ImpliedMovePct float64
	HasImplied     bool
}

// formatDigest renders a ranked opportunity list as a Telegram Markdown
// message. An empty list still produces a message: silence reads as
// breakage.
func formatDigest(title, date string, opps []pipeline.Opportunity, stats pipeline.Stats) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("*%s* %s\n", title, date))

	if len(opps) == 0 {
		b.WriteString("\nNo qualified opportunities today.\n")
	} else {
		for i, opp := range opps {
			b.WriteString("\n")
			b.WriteString(formatOpportunity(i+1, opp))
		}
	}

	b.WriteString(fmt.Sprintf("\nEvaluated %d of %d candidates, %d enriched, %d vendor calls.\n",
		stats.Evaluated, stats.Candidates, stats.Enriched, stats.VendorCalls))
	if len(stats.FailedTickers) > 0 {
		b.WriteString(fmt.Sprintf("%d failed: %s\n",
			len(stats.FailedTickers), strings.Join(stats.FailedTickers, ", ")))
	}
	return b.String()
}

// formatOpportunity renders one digest row.
func formatOpportunity(rank int, opp pipeline.Opportunity) string {
	var b strings.Builder

	timing := ""
	if opp.Timing != "" {
		timing = fmt.Sprintf(" (%s)", opp.Timing)
	}
	b.WriteString(fmt.Sprintf("%d. *%s* reports %s%s\n", rank, opp.Ticker, opp.EarningsDate, timing))

	source := "historical mean"
	if opp.UsedRealOptions {
		source = "live chain"
	}
	b.WriteString(fmt.Sprintf("   VRP %.2f %s: implied %.1f%% vs hist %.1f%% (%s)\n",
		opp.VRP.Ratio, opp.VRP.Tier, opp.ImpliedMovePct, opp.HistoricalMean, source))

	b.WriteString(fmt.Sprintf("   Score %.1f, %s (%s), size x%.2f\n",
		opp.Score.Composite, opp.Direction.Direction, ruleLabel(opp.Direction.Rule), opp.Size.Modifier))

	b.WriteString(fmt.Sprintf("   Liquidity %s, consistency %.2f\n", opp.Liquidity.Tier, opp.Consistency))

	if opp.Size.HighBullishWarning {
		b.WriteString("   Crowded bullish positioning, tail risk elevated\n")
	}
	return b.String()
}

// formatAfterHours renders the close-of-day reporter check.
func formatAfterHours(date string, confirmed, unconfirmed []afterHoursLine) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("*After the close* %s\n", date))

	if len(confirmed) > 0 {
		b.WriteString("\nReporting after today's close:\n")
		for _, line := range confirmed {
			b.WriteString(formatAfterHoursLine(line))
		}
	}
	if len(unconfirmed) > 0 {
		b.WriteString("\nTiming unconfirmed, may report tonight:\n")
		for _, line := range unconfirmed {
			b.WriteString(formatAfterHoursLine(line))
		}
	}
	return b.String()
}

func formatAfterHoursLine(line afterHoursLine) string {
	if line.HasImplied {
		return fmt.Sprintf("  %s, implied move %.1f%%\n", line.Ticker, line.ImpliedMovePct)
	}
	return fmt.Sprintf("  %s, no morning snapshot\n", line.Ticker)
}

// formatSummary renders the evening operational report: spend, cache
// occupancy, breaker states, and every job that ran today.
func formatSummary(date string, status budget.Status, cacheStats cache.Stats, breakers map[string]circuit.Stats, results []Result) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Evening summary* %s\n\n", date))

	b.WriteString(fmt.Sprintf("Budget: %d/%d paid calls today, $%.2f/$%.2f this month (%s)\n",
		status.CallsToday, status.DailyCeiling, status.MonthCost, status.MonthlyCeiling, status.Verdict))
	b.WriteString(fmt.Sprintf("Cache: L1 %d/%d, L2 %d entries\n",
		cacheStats.L1Entries, cacheStats.L1Capacity, cacheStats.L2Entries))

	var tripped []string
	for name, st := range breakers {
		if st.State != "closed" {
			tripped = append(tripped, fmt.Sprintf("%s %s", name, st.State))
		}
	}
	if len(tripped) == 0 {
		b.WriteString("Breakers: all closed\n")
	} else {
		sort.Strings(tripped)
		b.WriteString("Breakers: " + strings.Join(tripped, ", ") + "\n")
	}

	if len(results) > 0 {
		b.WriteString("\nJobs:\n")
		for _, res := range results {
			line := fmt.Sprintf("  %s: %s in %s", res.JobName, res.Status, res.Duration.Round(10*time.Millisecond))
			if len(res.FailedTickers) > 0 {
				line += fmt.Sprintf(" (%d failed)", len(res.FailedTickers))
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// ruleLabel translates direction rule codes into digest wording.
func ruleLabel(rule string) string {
	switch rule {
	case scoring.RuleSentimentTiebreak:
		return "sentiment tiebreak"
	case scoring.RuleBothNeutral:
		return "no edge either way"
	case scoring.RuleConflictHedge:
		return "skew conflicts with sentiment"
	case scoring.RuleSkewKept:
		return "skew"
	default:
		return rule
	}
}
