package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// timeHorizon is the remaining-time fraction for an unbounded session.
const timeHorizon = 1.0

type QuoteInputs struct {
	Mid                float64
	InventoryDeviation float64
	Volatility         float64
	Gamma              float64
	Alpha              float64
	Kappa              float64
	MinSpreadFrac      float64
}

// Quote is the Avellaneda-Stoikov output for a single tick.
type Quote struct {
	ReservationPrice decimal.Decimal
	OptimalSpread    decimal.Decimal
	Bid              decimal.Decimal
	Ask              decimal.Decimal

	VolTerm       float64
	LiquidityTerm float64
	Naive         bool
}

func (q Quote) Valid() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive()
}

// CalculateQuote applies
//
//	r = S − q·γσT
//	δ = γσT + (2/γ)·ln(1 + γ/κ), floored at min_spread·S
//
// and centres bid and ask on r. A missing or non-positive κ falls back to the
// default liquidity parameters. σ ≤ 0 yields ErrNoVolatility.
func CalculateQuote(in QuoteInputs) (Quote, error) {
	if in.Volatility <= 0 || math.IsNaN(in.Volatility) {
		return Quote{}, ErrNoVolatility
	}
	if !(in.Mid > 0) || math.IsInf(in.Mid, 0) {
		return Quote{}, fmt.Errorf("mid %v: %w", in.Mid, ErrInvalidQuoteInput)
	}
	if !(in.Gamma > 0) || math.IsInf(in.Gamma, 0) {
		return Quote{}, fmt.Errorf("gamma %v: %w", in.Gamma, ErrInvalidQuoteInput)
	}
	kappa := in.Kappa
	if !(kappa > 0) || math.IsInf(kappa, 0) {
		kappa = defaultKappa
	}

	volTerm := in.Gamma * in.Volatility * timeHorizon
	reservation := in.Mid - in.InventoryDeviation*volTerm
	liquidityTerm := (2 / in.Gamma) * math.Log1p(in.Gamma/kappa)
	spread := volTerm + liquidityTerm
	if floor := in.MinSpreadFrac * in.Mid; spread < floor {
		spread = floor
	}
	if math.IsNaN(reservation) || math.IsNaN(spread) || math.IsInf(reservation, 0) || math.IsInf(spread, 0) {
		return Quote{}, fmt.Errorf("non-finite quote: %w", ErrInvalidQuoteInput)
	}

	bid := reservation - spread/2
	ask := reservation + spread/2
	if bid <= 0 {
		bid = in.Mid * 0.999
	}
	if ask <= 0 {
		ask = in.Mid * 1.001
	}
	return Quote{
		ReservationPrice: decimal.NewFromFloat(reservation),
		OptimalSpread:    decimal.NewFromFloat(spread),
		Bid:              decimal.NewFromFloat(bid),
		Ask:              decimal.NewFromFloat(ask),
		VolTerm:          volTerm,
		LiquidityTerm:    liquidityTerm,
	}, nil
}

// NaiveQuote centres a min-spread quote on mid.
func NaiveQuote(mid, minSpreadFrac float64) Quote {
	m := decimal.NewFromFloat(mid)
	half := decimal.NewFromFloat(minSpreadFrac / 2)
	return Quote{
		ReservationPrice: m,
		OptimalSpread:    m.Mul(decimal.NewFromFloat(minSpreadFrac)),
		Bid:              m.Mul(decimal.NewFromInt(1).Sub(half)),
		Ask:              m.Mul(decimal.NewFromInt(1).Add(half)),
		Naive:            true,
	}
}

// InventoryDeviation measures how far the value-based portfolio composition is
// from target: ratio = (quote + Σ amount·price) / (quote + |Σ amount·price|).
// It returns 0 when the portfolio has no value.
func InventoryDeviation(quoteBalance decimal.Decimal, positions []Position, price decimal.Decimal, target float64) float64 {
	positionValue := decimal.Zero
	for _, p := range positions {
		positionValue = positionValue.Add(p.Amount.Mul(price))
	}
	total := quoteBalance.Add(positionValue.Abs())
	if !total.IsPositive() {
		return 0
	}
	ratio := quoteBalance.Add(positionValue).Div(total).InexactFloat64()
	return math.Abs(ratio - target)
}

// UnrealizedPnL is Σ (price − entry)·amount over the given positions.
func UnrealizedPnL(positions []Position, price decimal.Decimal) decimal.Decimal {
	pnl := decimal.Zero
	for _, p := range positions {
		pnl = pnl.Add(price.Sub(p.EntryPrice).Mul(p.Amount))
	}
	return pnl
}
