package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

const exitLockTTL = 10 * time.Second

// ExitLock records close orders that were sent but not yet confirmed done. An
// entry blocks further exits until it is removed or expires, regardless of
// what the exchange currently reports.
type ExitLock struct {
	orders map[string]time.Time
}

func NewExitLock() *ExitLock {
	return &ExitLock{orders: make(map[string]time.Time)}
}

func (l *ExitLock) Record(orderID string, at time.Time) {
	l.orders[orderID] = at
}

func (l *ExitLock) Remove(orderID string) {
	delete(l.orders, orderID)
}

func (l *ExitLock) Clear() {
	for id := range l.orders {
		delete(l.orders, id)
	}
}

func (l *ExitLock) Len() int {
	return len(l.orders)
}

func (l *ExitLock) Has(orderID string) bool {
	_, ok := l.orders[orderID]
	return ok
}

// Pending drops entries older than the lock TTL and reports whether any
// remain.
func (l *ExitLock) Pending(now time.Time) bool {
	for id, at := range l.orders {
		if now.Sub(at) > exitLockTTL {
			delete(l.orders, id)
		}
	}
	return len(l.orders) > 0
}

type ExitKind string

const (
	ExitProfitTaking ExitKind = "profit_taking"
	ExitStopLoss     ExitKind = "stop_loss"
)

type ExitOrder struct {
	Kind  ExitKind
	Side  Side
	Type  OrderType
	Price decimal.Decimal
	Size  decimal.Decimal
}

// StopLossOrder triggers when the touch crosses entry ± stop loss: a long
// exits when bid ≤ entry·(1−sl), a short when ask ≥ entry·(1+sl). The close
// is a market order; Price carries the touch as the slippage reference.
func StopLossOrder(pos Position, bid, ask decimal.Decimal, stopLoss float64) (ExitOrder, bool) {
	sl := decimal.NewFromFloat(stopLoss)
	one := decimal.NewFromInt(1)
	size := pos.Amount.Abs()
	switch {
	case pos.Amount.IsPositive():
		trigger := pos.EntryPrice.Mul(one.Sub(sl))
		if bid.IsPositive() && bid.LessThanOrEqual(trigger) {
			return ExitOrder{Kind: ExitStopLoss, Side: SideSell, Type: OrderTypeMarket, Price: bid, Size: size}, true
		}
	case pos.Amount.IsNegative():
		trigger := pos.EntryPrice.Mul(one.Add(sl))
		if ask.IsPositive() && ask.GreaterThanOrEqual(trigger) {
			return ExitOrder{Kind: ExitStopLoss, Side: SideBuy, Type: OrderTypeMarket, Price: ask, Size: size}, true
		}
	}
	return ExitOrder{}, false
}

// ProfitTakingOrder places a resting close once the position is in profit: a
// long sells at entry·(1+pt) when ask > entry, a short buys at entry·(1−pt)
// when bid < entry.
func ProfitTakingOrder(pos Position, bid, ask decimal.Decimal, spreads ExitSpreads) (ExitOrder, bool) {
	one := decimal.NewFromInt(1)
	size := pos.Amount.Abs()
	switch {
	case pos.Amount.IsPositive():
		if ask.GreaterThan(pos.EntryPrice) {
			price := pos.EntryPrice.Mul(one.Add(decimal.NewFromFloat(spreads.LongProfitTaking)))
			return ExitOrder{Kind: ExitProfitTaking, Side: SideSell, Type: OrderTypeLimit, Price: price, Size: size}, true
		}
	case pos.Amount.IsNegative():
		if bid.IsPositive() && bid.LessThan(pos.EntryPrice) {
			price := pos.EntryPrice.Mul(one.Sub(decimal.NewFromFloat(spreads.ShortProfitTaking)))
			return ExitOrder{Kind: ExitProfitTaking, Side: SideBuy, Type: OrderTypeLimit, Price: price, Size: size}, true
		}
	}
	return ExitOrder{}, false
}
