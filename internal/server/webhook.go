package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/pipeline"
)

const (
	// secretTokenHeader is set by Telegram on every webhook delivery when
	// the webhook was registered with a secret.
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	// maxCommandLen bounds untrusted command input.
	maxCommandLen = 500

	// whisperWindowDays matches the morning digest window.
	whisperWindowDays = 4

	maxWebhookBody = 64 << 10
)

const helpText = `Commands:
/health - service liveness
/whisper - run the digest pipeline now
/analyze TICKER - VRP read for one ticker
/council TICKER - fresh multi-source sentiment
/dashboard - budget, breakers, job results`

// telegramUpdate is the subset of Telegram's Update object the bot reads.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// handleTelegramWebhook authenticates the delivery, dispatches the command,
// and replies to the originating chat. Fail-closed: with no secret
// configured every delivery is refused. Handled updates always return 200,
// otherwise Telegram redelivers them.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.telegram.WebhookSecret == "" {
		s.writeError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}
	if r.Header.Get(secretTokenHeader) != s.telegram.WebhookSecret {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var update telegramUpdate
	body := http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := json.NewDecoder(body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid update")
		return
	}
	if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
		s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	text := update.Message.Text
	if len(text) > maxCommandLen {
		text = text[:maxCommandLen]
	}

	reply := s.dispatch(r.Context(), text)
	s.reply(r.Context(), update.Message.Chat.ID, reply)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) reply(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil || !s.notifier.Enabled() {
		s.log.Debug().Msg("Notifier disabled, dropping webhook reply")
		return
	}
	if err := s.notifier.SendMessageTo(ctx, strconv.FormatInt(chatID, 10), text, "Markdown"); err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send webhook reply")
	}
}

// dispatch routes one command line. Group-chat mentions (/health@bot) are
// stripped; anything unrecognized gets the help text.
func (s *Server) dispatch(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText
	}

	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/health":
		return s.cmdHealth(ctx)
	case "/whisper":
		return s.cmdWhisper(ctx)
	case "/analyze":
		if len(fields) < 2 {
			return "Usage: /analyze TICKER"
		}
		return s.cmdAnalyze(ctx, fields[1])
	case "/council":
		if len(fields) < 2 {
			return "Usage: /council TICKER"
		}
		return s.cmdCouncil(ctx, fields[1])
	case "/dashboard":
		return s.cmdDashboard(ctx)
	default:
		return helpText
	}
}

func (s *Server) cmdHealth(ctx context.Context) string {
	if err := s.db.Conn().PingContext(ctx); err != nil {
		return fmt.Sprintf("Degraded: database unreachable (%v)", err)
	}

	cacheStats := s.kv.Stats()
	line := fmt.Sprintf("Healthy. Uptime %s. Cache L1 %d/%d, L2 %d entries.",
		time.Since(s.started).Round(time.Second),
		cacheStats.L1Entries, cacheStats.L1Capacity, cacheStats.L2Entries)

	if status, err := s.budget.Status(ctx); err == nil {
		line += fmt.Sprintf(" Budget %d/%d calls (%s).",
			status.CallsToday, status.DailyCeiling, status.Verdict)
	}
	return line
}

// cmdWhisper runs the digest pipeline on demand over the upcoming window
// and replies with a compact ranked list.
func (s *Server) cmdWhisper(ctx context.Context) string {
	events, err := s.calendar.Upcoming(ctx, whisperWindowDays)
	if err != nil {
		return fmt.Sprintf("Calendar unavailable: %v", err)
	}

	universe, err := s.moves.TrackedUniverse(ctx)
	if err != nil {
		return fmt.Sprintf("History unavailable: %v", err)
	}
	kept := make([]domain.EarningsEvent, 0, len(events))
	for _, ev := range events {
		if universe[ev.Ticker] {
			kept = append(kept, ev)
		}
	}

	opps, stats, err := s.pipeline.Analyze(ctx, pipeline.CandidatesFromEvents(kept))
	if err != nil {
		return fmt.Sprintf("Pipeline failed: %v", err)
	}
	if len(opps) == 0 {
		return fmt.Sprintf("No qualified opportunities in the next %d days (evaluated %d of %d).",
			whisperWindowDays, stats.Evaluated, stats.Candidates)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Whisper* %s\n", s.mc.Today()))
	for i, opp := range opps {
		b.WriteString(fmt.Sprintf("%d. *%s* %s: VRP %.2f %s, score %.1f, %s x%.2f\n",
			i+1, opp.Ticker, opp.EarningsDate,
			opp.VRP.Ratio, opp.VRP.Tier,
			opp.Score.Composite, opp.Direction.Direction, opp.Size.Modifier))
	}
	b.WriteString(fmt.Sprintf("Evaluated %d of %d, %d vendor calls.",
		stats.Evaluated, stats.Candidates, stats.VendorCalls))
	return b.String()
}

// cmdAnalyze is a single-ticker VRP read against the next earnings event.
func (s *Server) cmdAnalyze(ctx context.Context, raw string) string {
	ticker, err := domain.NormalizeTicker(raw)
	if err != nil {
		return fmt.Sprintf("Bad ticker %q: %v", raw, err)
	}

	event, err := s.calendar.NextEvent(ctx, ticker)
	if err != nil {
		return fmt.Sprintf("Calendar lookup failed: %v", err)
	}
	if event == nil {
		return fmt.Sprintf("No upcoming earnings on the calendar for %s.", ticker)
	}

	eval, err := s.pipeline.Evaluator().EvaluateVRP(ctx, ticker, event.ReportDate, nil)
	if err != nil {
		return fmt.Sprintf("Evaluation failed for %s: %v", ticker, err)
	}
	if eval == nil {
		return fmt.Sprintf("%s reports %s but has too little recorded history for a VRP read.",
			ticker, event.ReportDate)
	}

	source := "historical mean"
	if eval.UsedRealOptions {
		source = "live chain"
	}
	reply := fmt.Sprintf("*%s* reports %s (%s)\nVRP %.2f %s: implied %.1f%% vs hist %.1f%% over %d moves (%s).",
		ticker, event.ReportDate, event.Timing,
		eval.VRP.Ratio, eval.VRP.Tier, eval.ImpliedMovePct, eval.HistoricalMean, eval.MoveCount, source)
	if eval.VRP.Recommendation != "" {
		reply += "\n" + eval.VRP.Recommendation
	}
	return reply
}

// cmdCouncil fans out every sentiment provider and reports the votes.
func (s *Server) cmdCouncil(ctx context.Context, raw string) string {
	ticker, err := domain.NormalizeTicker(raw)
	if err != nil {
		return fmt.Sprintf("Bad ticker %q: %v", raw, err)
	}

	earningsDate := s.mc.Today()
	if event, err := s.calendar.NextEvent(ctx, ticker); err == nil && event != nil {
		earningsDate = event.ReportDate
	}

	result, err := s.sentiment.Council(ctx, ticker, earningsDate)
	if err != nil {
		return fmt.Sprintf("Council failed for %s: %v", ticker, err)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Council* %s (%s)\n", result.Ticker, result.EarningsDate))
	for _, row := range result.Rows {
		if row.Err != "" {
			b.WriteString(fmt.Sprintf("  %s: unavailable (%s)\n", row.Source, row.Err))
			continue
		}
		line := fmt.Sprintf("  %s: %s %+.2f", row.Source, row.Direction, row.Score)
		if row.Summary != "" {
			line += ", " + row.Summary
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(fmt.Sprintf("Consensus %s, confidence %.2f, size x%.2f",
		result.Consensus, result.Confidence, result.SizeModifier))
	return b.String()
}

func (s *Server) cmdDashboard(ctx context.Context) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Dashboard* %s\n", s.mc.Today()))

	if status, err := s.budget.Status(ctx); err != nil {
		b.WriteString("Budget: ledger unreadable\n")
	} else {
		b.WriteString(fmt.Sprintf("Budget: %d/%d paid calls today, $%.2f/$%.2f this month (%s)\n",
			status.CallsToday, status.DailyCeiling, status.MonthCost, status.MonthlyCeiling, status.Verdict))
	}

	var tripped []string
	for name, st := range s.breakers.Stats() {
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

	results := s.runner.LastResults()
	if len(results) == 0 {
		b.WriteString("No jobs have run yet.")
		return b.String()
	}
	b.WriteString("Jobs:\n")
	for _, res := range results {
		b.WriteString(fmt.Sprintf("  %s: %s in %s\n",
			res.JobName, res.Status, res.Duration.Round(10*time.Millisecond)))
	}
	return strings.TrimRight(b.String(), "\n")
}
