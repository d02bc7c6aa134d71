package app

import (
	"context"
	"time"

	"hl-mm-bot/internal/state"
	"hl-mm-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func snapshotFromStatus(st strategy.Status, now time.Time) state.StrategySnapshot {
	snap := state.StrategySnapshot{
		Pair:              st.Pair,
		State:             string(st.State),
		Paused:            st.Paused,
		Gamma:             st.Gamma,
		Mid:               st.Mid.String(),
		Volatility:        st.Volatility,
		Alpha:             st.Alpha,
		Kappa:             st.Kappa,
		InventoryDev:      st.InventoryDev,
		Position:          netPosition(st.Positions).String(),
		ActiveOrders:      st.ActiveOrders,
		ConsecutiveErrors: st.ConsecutiveErrors,
		UpdatedAtMS:       now.UnixMilli(),
	}
	if st.HasQuote {
		snap.ReservationPrice = st.Quote.ReservationPrice.String()
		snap.OptimalSpread = st.Quote.OptimalSpread.String()
		snap.Bid = st.Quote.Bid.String()
		snap.Ask = st.Quote.Ask.String()
	}
	if !st.LastErrorAt.IsZero() {
		snap.LastErrorAtMS = st.LastErrorAt.UnixMilli()
	}
	if !st.LastStopLossAt.IsZero() {
		snap.LastStopLossAtMS = st.LastStopLossAt.UnixMilli()
	}
	return snap
}

func netPosition(positions []strategy.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Amount)
	}
	return total
}

func (a *App) saveSnapshot(ctx context.Context, st strategy.Status) {
	if err := state.SaveStrategySnapshot(ctx, a.store, snapshotFromStatus(st, time.Now())); err != nil {
		a.log.Warn("snapshot save failed", zap.Error(err))
	}
}

// restoreSnapshot carries timers and the pause flag over from the previous
// session when it traded the same pair.
func (a *App) restoreSnapshot(ctx context.Context) {
	snap, ok, err := state.LoadStrategySnapshot(ctx, a.store)
	if err != nil {
		a.log.Warn("snapshot load failed", zap.Error(err))
		return
	}
	if !ok || snap.Pair != a.cfg.Strategy.Coin {
		return
	}
	var lastErr, lastStop time.Time
	if snap.LastErrorAtMS > 0 {
		lastErr = time.UnixMilli(snap.LastErrorAtMS)
	}
	if snap.LastStopLossAtMS > 0 {
		lastStop = time.UnixMilli(snap.LastStopLossAtMS)
	}
	a.strategy.Restore(lastErr, lastStop, snap.ConsecutiveErrors)
	a.strategy.SetPaused(snap.Paused)
	a.lastStopLoss = lastStop
	a.log.Info("restored strategy snapshot",
		zap.String("previous_state", snap.State),
		zap.Bool("paused", snap.Paused),
		zap.Int("consecutive_errors", snap.ConsecutiveErrors),
		zap.Time("last_error_at", lastErr),
		zap.Time("last_stop_loss_at", lastStop),
	)
}

func (a *App) restoreOptimizerResult(ctx context.Context) {
	if !a.cfg.Optimizer.Apply {
		return
	}
	res, ok, err := state.LoadOptimizerResult(ctx, a.store, a.cfg.Strategy.Coin)
	if err != nil {
		a.log.Warn("optimizer result load failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if err := a.strategy.UpdateExitSpreads(res.LongProfitTaking.InexactFloat64(), res.ShortProfitTaking.InexactFloat64(), res.StopLoss.InexactFloat64()); err != nil {
		a.log.Warn("stored optimizer result rejected", zap.Error(err))
		return
	}
	a.log.Info("applied stored optimizer result", zap.Int64("computed_at_ms", res.ComputedAtMS))
}
