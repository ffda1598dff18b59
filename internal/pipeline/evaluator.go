// Package pipeline is the single code path every digest and analysis job
// runs: evaluate VRP per candidate, enrich the best with sentiment, score,
// rank, truncate. Jobs differ only in where their candidates come from and
// what they do with the ranked list.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/pmak99/trading-desk-public-sub003/internal/clients/optionsdata"
	"github.com/pmak99/trading-desk-public-sub003/internal/config"
	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
	"github.com/pmak99/trading-desk-public-sub003/internal/ivlog"
	"github.com/pmak99/trading-desk-public-sub003/internal/moves"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/circuit"
	"github.com/pmak99/trading-desk-public-sub003/internal/net/ratelimit"
	"github.com/pmak99/trading-desk-public-sub003/internal/vrp"
)

// VendorOptions names the options vendor for its limiter and breaker.
// The composition root registers both under this name.
const VendorOptions = "optionsdata"

// Source tag on iv_log observations written by the evaluator.
const observationSource = "optionsdata"

// pacerPause is the courtesy sleep inserted every N vendor calls, a second
// guard over the token bucket during long per-ticker loops.
const pacerPause = 500 * time.Millisecond

// CallPacer counts vendor calls across one job run and sleeps briefly every
// N of them.
type CallPacer struct {
	every int
	pause time.Duration
	calls int
}

func NewCallPacer(every int) *CallPacer {
	return &CallPacer{every: every, pause: pacerPause}
}

// Tick records one vendor call and, every N calls, pauses. Honors
// cancellation during the pause.
func (p *CallPacer) Tick(ctx context.Context) {
	if p == nil {
		return
	}
	p.calls++
	if p.every <= 0 || p.calls%p.every != 0 {
		return
	}
	select {
	case <-time.After(p.pause):
	case <-ctx.Done():
	}
}

// Calls returns how many vendor calls the run made.
func (p *CallPacer) Calls() int {
	if p == nil {
		return 0
	}
	return p.calls
}

// OptionsVendor is the options-data dependency of the evaluator.
type OptionsVendor interface {
	GetExpirations(ctx context.Context, ticker string) ([]string, error)
	GetOptionChain(ctx context.Context, ticker, expiration string) (*domain.OptionChain, error)
}

// Evaluation is one candidate's VRP read plus everything scoring needs.
// Move and Chain are nil when the options fetch fell back to the historical
// mean.
type Evaluation struct {
	Ticker          string              `json:"ticker"`
	EarningsDate    string              `json:"earnings_date"`
	HistoricalMean  float64             `json:"historical_mean"`
	Consistency     float64             `json:"consistency"`
	MoveCount       int                 `json:"move_count"`
	ImpliedMovePct  float64             `json:"implied_move_pct"`
	UsedRealOptions bool                `json:"used_real_options"`
	VRP             domain.VRPResult    `json:"vrp"`
	Move            *domain.ImpliedMove `json:"move,omitempty"`
	Chain           *domain.OptionChain `json:"-"`
}

// Evaluator turns (ticker, earnings date) into a VRP evaluation. One shared
// instance serves every job; per-run state lives in the CallPacer.
type Evaluator struct {
	options  OptionsVendor
	moves    *moves.Store
	ivs      *ivlog.Store
	limits   *ratelimit.Manager
	breakers *circuit.Manager
	vrpCfg   config.VRPConfig
	log      zerolog.Logger
}

func NewEvaluator(
	options OptionsVendor,
	movesStore *moves.Store,
	ivs *ivlog.Store,
	limits *ratelimit.Manager,
	breakers *circuit.Manager,
	vrpCfg config.VRPConfig,
	log zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		options:  options,
		moves:    movesStore,
		ivs:      ivs,
		limits:   limits,
		breakers: breakers,
		vrpCfg:   vrpCfg,
		log:      log.With().Str("component", "evaluator").Logger(),
	}
}

// EvaluateVRP computes a candidate's VRP. A ticker without enough recorded
// history returns (nil, nil): absence, not an error. When the options vendor
// cannot produce a chain the historical mean stands in for the implied move
// and UsedRealOptions is false; real fetches also log an iv_log observation.
func (e *Evaluator) EvaluateVRP(ctx context.Context, ticker, earningsDate string, pacer *CallPacer) (*Evaluation, error) {
	normalized, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	history, err := e.moves.AbsMoves(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if len(history) < e.vrpCfg.MinMoves {
		e.log.Debug().
			Str("ticker", normalized).
			Int("moves", len(history)).
			Msg("Not enough history for VRP")
		return nil, nil
	}

	eval := &Evaluation{
		Ticker:         normalized,
		EarningsDate:   earningsDate,
		HistoricalMean: stat.Mean(history, nil),
		Consistency:    moves.Consistency(history),
		MoveCount:      len(history),
	}

	implied := eval.HistoricalMean
	move, chain, err := e.fetchImpliedMove(ctx, normalized, earningsDate, pacer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn().Err(err).
			Str("ticker", normalized).
			Msg("Implied move unavailable, falling back to historical mean")
	} else {
		eval.Move = move
		eval.Chain = chain
		eval.UsedRealOptions = true
		implied = move.ImpliedMovePct

		obs := ivlog.FromImpliedMove(move, chain.UnderlyingPrice, observationSource)
		obs.ObservedAt = time.Now().UTC()
		if err := e.ivs.Record(ctx, obs); err != nil {
			e.log.Error().Err(err).Str("ticker", normalized).Msg("Failed to log IV observation")
		}
	}

	eval.ImpliedMovePct = implied
	eval.VRP = vrp.Evaluate(e.vrpCfg, implied, history)
	return eval, nil
}

// fetchImpliedMove reserves a vendor token, then pulls expirations and the
// event-covering chain through the breaker and derives the ATM straddle
// move.
func (e *Evaluator) fetchImpliedMove(ctx context.Context, ticker, earningsDate string, pacer *CallPacer) (*domain.ImpliedMove, *domain.OptionChain, error) {
	if err := e.limits.Wait(ctx, VendorOptions); err != nil {
		return nil, nil, err
	}
	pacer.Tick(ctx)

	var move *domain.ImpliedMove
	var chain *domain.OptionChain
	err := e.breakers.Execute(ctx, VendorOptions, func(ctx context.Context) error {
		expirations, err := e.options.GetExpirations(ctx, ticker)
		if err != nil {
			return err
		}
		expiration := firstCovering(expirations, earningsDate)
		if expiration == "" {
			return fmt.Errorf("no expiration covers %s for %s: %w", earningsDate, ticker, domain.ErrNoData)
		}

		chain, err = e.options.GetOptionChain(ctx, ticker, expiration)
		if err != nil {
			return err
		}
		move, err = optionsdata.DeriveImpliedMove(chain)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return move, chain, nil
}

// firstCovering returns the earliest expiration on or after the report date.
// Expirations arrive sorted; ISO dates compare lexically.
func firstCovering(expirations []string, earningsDate string) string {
	for _, exp := range expirations {
		if exp >= earningsDate {
			return exp
		}
	}
	return ""
}
