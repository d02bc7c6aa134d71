package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is a read-only view of the strategy for operators and persistence.
type Status struct {
	Pair              string
	State             State
	Paused            bool
	Mid               decimal.Decimal
	Gamma             float64
	Adaptive          bool
	Learner           *GammaStats
	Volatility        float64
	Alpha             float64
	Kappa             float64
	Ready             bool
	TicksToReady      int
	Quote             Quote
	HasQuote          bool
	InventoryDev      float64
	Positions         []Position
	ActiveOrders      int
	PendingExits      int
	ConsecutiveErrors int
	LastErrorAt       time.Time
	LastStopLossAt    time.Time
	LastTradePrice    decimal.Decimal
	NextCreateAt      time.Time
}

func (s *Strategy) Status() Status {
	st := Status{
		Pair:              s.pair,
		State:             s.sm.State(),
		Paused:            s.paused,
		Mid:               s.lastMid,
		Gamma:             s.Gamma(),
		Adaptive:          s.learner != nil,
		Volatility:        s.volatility(),
		Alpha:             s.alpha,
		Kappa:             s.kappa,
		Ready:             s.isReady(),
		TicksToReady:      s.ticksToReady,
		Quote:             s.quote,
		HasQuote:          s.hasQuote,
		InventoryDev:      s.lastDev,
		Positions:         append([]Position(nil), s.positions...),
		ActiveOrders:      s.tracker.Len(),
		PendingExits:      s.exits.Len(),
		ConsecutiveErrors: s.consecutiveErrors,
		LastErrorAt:       s.lastErrorAt,
		LastStopLossAt:    s.lastStopLossAt,
		LastTradePrice:    s.lastTradePrice,
		NextCreateAt:      s.createAt,
	}
	if s.learner != nil {
		stats := s.learner.Statistics()
		st.Learner = &stats
	}
	return st
}

// Restore carries error and stop-loss timers over from a previous session so
// a restart does not bypass cooldowns.
func (s *Strategy) Restore(lastErrorAt, lastStopLossAt time.Time, consecutiveErrors int) {
	s.lastErrorAt = lastErrorAt
	s.lastStopLossAt = lastStopLossAt
	s.consecutiveErrors = consecutiveErrors
}

func FormatStatus(st Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Avellaneda perpetual market making\n")
	fmt.Fprintf(&b, "Pair: %s  State: %s", st.Pair, st.State)
	if st.Paused {
		b.WriteString("  (paused)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Price: %s\n", st.Mid.StringFixed(6))
	if !st.Ready {
		fmt.Fprintf(&b, "Collecting market data... %d ticks remaining\n", st.TicksToReady)
	} else {
		mode := "fixed"
		if st.Adaptive {
			mode = "adaptive"
		}
		fmt.Fprintf(&b, "Risk factor (γ): %.6f (%s)\n", st.Gamma, mode)
		if st.Learner != nil {
			fmt.Fprintf(&b, "  avg reward %.6f  std %.6f  range [%.4f, %.4f]  updates %d\n",
				st.Learner.AvgReward, st.Learner.RewardStd, st.Learner.GammaLow, st.Learner.GammaHigh, st.Learner.UpdateCount)
		}
		if mid := st.Mid.InexactFloat64(); mid > 0 {
			fmt.Fprintf(&b, "Volatility: %.6f (%.3f%%)\n", st.Volatility, st.Volatility/mid*100)
		}
		if st.Kappa > 0 {
			fmt.Fprintf(&b, "Order book intensity (α): %.6f  depth (κ): %.6f\n", st.Alpha, st.Kappa)
		}
		if st.HasQuote {
			fmt.Fprintf(&b, "Reservation: %s  Spread: %s\n", st.Quote.ReservationPrice.StringFixed(6), st.Quote.OptimalSpread.StringFixed(6))
			fmt.Fprintf(&b, "Bid: %s  Ask: %s\n", st.Quote.Bid.StringFixed(6), st.Quote.Ask.StringFixed(6))
		}
		fmt.Fprintf(&b, "Inventory deviation: %.4f\n", st.InventoryDev)
	}
	if len(st.Positions) > 0 {
		b.WriteString("Positions:\n")
		for _, p := range st.Positions {
			side := "LONG"
			if !p.IsLong() {
				side = "SHORT"
			}
			pnl := UnrealizedPnL([]Position{p}, st.Mid)
			fmt.Fprintf(&b, "  %s %s @ %s (PnL %s)\n", side, p.Amount.Abs().String(), p.EntryPrice.StringFixed(6), pnl.StringFixed(4))
		}
	}
	if st.ActiveOrders > 0 {
		fmt.Fprintf(&b, "Active orders: %d\n", st.ActiveOrders)
	}
	if st.PendingExits > 0 {
		fmt.Fprintf(&b, "Pending exits: %d\n", st.PendingExits)
	}
	if st.ConsecutiveErrors > 0 {
		fmt.Fprintf(&b, "Consecutive errors: %d\n", st.ConsecutiveErrors)
	}
	return strings.TrimRight(b.String(), "\n")
}
