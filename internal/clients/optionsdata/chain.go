package optionsdata

import (
	"fmt"
	"math"

	"github.com/pmak99/trading-desk-public-sub003/internal/domain"
)

// ATMStraddle picks the strike nearest the underlying price where both legs
// carry a two-sided quote. Ties go to the lower strike.
func ATMStraddle(chain *domain.OptionChain) (call, put domain.OptionQuote, err error) {
	if chain == nil || chain.UnderlyingPrice <= 0 {
		return call, put, domain.NewValidationError("chain", "underlying price missing")
	}

	puts := make(map[float64]domain.OptionQuote, len(chain.Puts))
	for _, p := range chain.Puts {
		puts[p.Strike] = p
	}

	best := math.MaxFloat64
	found := false
	for _, c := range chain.Calls {
		p, ok := puts[c.Strike]
		if !ok || c.Mid() <= 0 || p.Mid() <= 0 {
			continue
		}
		distance := math.Abs(c.Strike - chain.UnderlyingPrice)
		if distance < best || (distance == best && c.Strike < call.Strike) {
			best = distance
			call, put = c, p
			found = true
		}
	}
	if !found {
		return call, put, fmt.Errorf("no quoted straddle on %s %s: %w",
			chain.Ticker, chain.Expiration, domain.ErrNoData)
	}

	return call, put, nil
}

// DeriveImpliedMove prices the expected move from the ATM straddle: the
// straddle cost as a fraction of spot, expressed in percent.
func DeriveImpliedMove(chain *domain.OptionChain) (*domain.ImpliedMove, error) {
	call, put, err := ATMStraddle(chain)
	if err != nil {
		return nil, err
	}

	straddle := call.Mid() + put.Mid()
	if straddle <= 0 {
		return nil, fmt.Errorf("straddle priced at zero on %s %s: %w",
			chain.Ticker, chain.Expiration, domain.ErrNoData)
	}

	return &domain.ImpliedMove{
		Ticker:         chain.Ticker,
		Expiration:     chain.Expiration,
		ATMStrike:      call.Strike,
		CallMid:        call.Mid(),
		PutMid:         put.Mid(),
		StraddleCost:   straddle,
		ImpliedMovePct: straddle / chain.UnderlyingPrice * 100,
		UpperBound:     chain.UnderlyingPrice + straddle,
		LowerBound:     chain.UnderlyingPrice - straddle,
	}, nil
}

// SkewValue measures which leg of the ATM straddle is bid:
// (call mid - put mid) / straddle cost, bounded to [-1, 1]. Positive means
// calls are rich relative to puts.
func SkewValue(move *domain.ImpliedMove) float64 {
	if move == nil || move.StraddleCost <= 0 {
		return 0
	}
	skew := (move.CallMid - move.PutMid) / move.StraddleCost
	return math.Max(-1, math.Min(1, skew))
}
