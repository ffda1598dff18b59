package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
)

const paidSystemPrompt = `You are an equity options analyst assessing pre-earnings sentiment.
Answer with exactly these four lines and nothing else:
Direction: bullish|bearish|neutral
Score: a number between -1.0 and 1.0
Catalysts: short comma-separated list
Risks: short comma-separated list`

// Completer is the paid AI chat dependency.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// PaidAIProvider asks the paid AI vendor for a structured sentiment read.
// Every Fetch that reaches the vendor is one billable call; the Service
// checks the budget before calling and records the spend after.
type PaidAIProvider struct {
	client   Completer
	limits   *ratelimit.Manager
	breakers *circuit.Manager
	log      zerolog.Logger
}

// NewPaidAIProvider wires the paid sentiment provider.
func NewPaidAIProvider(client Completer, limits *ratelimit.Manager, breakers *circuit.Manager, log zerolog.Logger) *PaidAIProvider {
	return &PaidAIProvider{
		client:   client,
		limits:   limits,
		breakers: breakers,
		log:      log.With().Str("provider", "paid_ai").Logger(),
	}
}

// Source identifies records written by this provider.
func (p *PaidAIProvider) Source() domain.SentimentSource {
	return domain.SourcePaidAI
}

// Fetch runs one paid sentiment call and parses the structured block.
func (p *PaidAIProvider) Fetch(ctx context.Context, ticker, earningsDate string) (*domain.SentimentRecord, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	if err := p.limits.Wait(ctx, VendorAnthropic); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"Assess market sentiment for %s going into its earnings report on %s. "+
			"Consider recent news, guidance history, and sector tone.",
		normalized, earningsDate)

	var text string
	err = p.breakers.Execute(ctx, VendorAnthropic, func(ctx context.Context) error {
		var callErr error
		text, callErr = p.client.Complete(ctx, paidSystemPrompt, prompt)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	analysis := ParseAnalysis(text)
	score := analysis.Score
	p.log.Debug().
		Str("ticker", normalized).
		Str("direction", string(analysis.Direction)).
		Float64("score", score).
		Msg("Paid sentiment fetched")

	return &domain.SentimentRecord{
		Ticker:       normalized,
		EarningsDate: earningsDate,
		CollectedAt:  time.Now().UTC(),
		Source:       domain.SourcePaidAI,
		Text:         text,
		Score:        &score,
		Direction:    analysis.Direction,
	}, nil
}
