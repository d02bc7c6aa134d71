package app

import (
	"time"

	"hl-mm-bot/internal/account"
	"hl-mm-bot/internal/optimizer"
	"hl-mm-bot/internal/strategy"
	"hl-mm-bot/internal/timescale"
)

func (a *App) recordQuote(st strategy.Status) {
	if a.timescale == nil {
		return
	}
	snap := timescale.QuoteSnapshot{
		Time:         time.Now().UTC(),
		Pair:         st.Pair,
		State:        string(st.State),
		Mid:          st.Mid.InexactFloat64(),
		Gamma:        st.Gamma,
		Volatility:   st.Volatility,
		Alpha:        st.Alpha,
		Kappa:        st.Kappa,
		InventoryDev: st.InventoryDev,
		Position:     netPosition(st.Positions).InexactFloat64(),
		ActiveOrders: st.ActiveOrders,
	}
	if st.HasQuote {
		snap.ReservationPrice = st.Quote.ReservationPrice.InexactFloat64()
		snap.OptimalSpread = st.Quote.OptimalSpread.InexactFloat64()
		snap.Bid = st.Quote.Bid.InexactFloat64()
		snap.Ask = st.Quote.Ask.InexactFloat64()
	}
	a.timescale.EnqueueQuote(snap)
}

func (a *App) recordFill(f account.Fill) {
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueueFill(timescale.Fill{
		Time:      f.Time,
		Pair:      f.Coin,
		OrderID:   f.OrderID,
		Side:      string(f.Side),
		Price:     f.Price.InexactFloat64(),
		Size:      f.Size.InexactFloat64(),
		Fee:       f.Fee.InexactFloat64(),
		ClosedPnl: f.ClosedPnl.InexactFloat64(),
		Hash:      f.Hash,
	})
}

func (a *App) recordOptimizerRun(res optimizer.Result, applied bool) {
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueueOptimizerRun(timescale.OptimizerRun{
		Time:               time.UnixMilli(res.ComputedAtMS).UTC(),
		Pair:               res.Asset,
		DailyVolatilityPct: res.DailyVolatilityPct,
		BidSpread:          res.BidSpread.InexactFloat64(),
		AskSpread:          res.AskSpread.InexactFloat64(),
		LongProfitTaking:   res.LongProfitTaking.InexactFloat64(),
		ShortProfitTaking:  res.ShortProfitTaking.InexactFloat64(),
		StopLoss:           res.StopLoss.InexactFloat64(),
		Applied:            applied,
	})
}
