package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type State string

type Event string

const (
	StateInitializing   State = "INITIALIZING"
	StateCollectingData State = "COLLECTING_DATA"
	StateReady          State = "READY"
	StateActiveMM       State = "ACTIVE_MM"
	StatePositionMgmt   State = "POSITION_MGMT"
	StateError          State = "ERROR"
	StateStopped        State = "STOPPED"
)

const (
	EventConfigured     Event = "CONFIGURED"
	EventDataReady      Event = "DATA_READY"
	EventQuoting        Event = "QUOTING"
	EventPositionOpened Event = "POSITION_OPENED"
	EventPositionClosed Event = "POSITION_CLOSED"
	EventErrorLimit     Event = "ERROR_LIMIT"
	EventRecovered      Event = "RECOVERED"
	EventStop           Event = "STOP"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type PositionAction string

const (
	PositionOpen  PositionAction = "OPEN"
	PositionClose PositionAction = "CLOSE"
)

type PositionMode string

const (
	PositionModeOneWay PositionMode = "ONEWAY"
	PositionModeHedge  PositionMode = "HEDGE"
)

func ParsePositionMode(s string) PositionMode {
	if s == "hedge" || s == string(PositionModeHedge) {
		return PositionModeHedge
	}
	return PositionModeOneWay
}

type PriceSize struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Proposal is the set of quote orders computed for a single tick.
type Proposal struct {
	Buys  []PriceSize
	Sells []PriceSize
}

func (p Proposal) Empty() bool {
	return len(p.Buys) == 0 && len(p.Sells) == 0
}

func (p Proposal) Len() int {
	return len(p.Buys) + len(p.Sells)
}

func (p Proposal) Notional() decimal.Decimal {
	total := decimal.Zero
	for _, o := range p.Buys {
		total = total.Add(o.Price.Mul(o.Size))
	}
	for _, o := range p.Sells {
		total = total.Add(o.Price.Mul(o.Size))
	}
	return total
}

type OrderRequest struct {
	Pair   string
	Side   Side
	Amount decimal.Decimal
	Type   OrderType
	Price  decimal.Decimal
	Action PositionAction
	// SlippageBuffer is the fraction a market order may trade away from the
	// reference price. The exchange adapter decides how to honour it.
	SlippageBuffer decimal.Decimal
}

type ActiveOrder struct {
	ID        string
	Pair      string
	Side      Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	CreatedAt time.Time

	// ReduceOnly marks exits; quotes never reduce.
	ReduceOnly bool
}

// Position uses a signed amount: positive is long, negative is short.
type Position struct {
	Pair          string
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	Leverage      int
	UnrealizedPnL decimal.Decimal
}

func (p Position) IsLong() bool {
	return p.Amount.IsPositive()
}

type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook holds bids best-first (descending) and asks best-first (ascending).
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

func (b OrderBook) Valid() bool {
	return len(b.Bids) > 0 && len(b.Asks) > 0
}

func (b OrderBook) Mid() float64 {
	if !b.Valid() {
		return 0
	}
	return b.Bids[0].Price.Add(b.Asks[0].Price).Div(decimal.NewFromInt(2)).InexactFloat64()
}

func (b OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

func (b OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// Exchange is the connector surface the strategy drives. Positions and orders
// belong to the connector; the strategy reads them fresh every tick.
type Exchange interface {
	MidPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	OrderBook(ctx context.Context, pair string) (OrderBook, error)
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
	Positions(ctx context.Context) (map[string]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, pair, orderID string) error
	ActiveOrders(ctx context.Context, pair string) ([]ActiveOrder, error)
	SetLeverage(ctx context.Context, pair string, leverage int) error
	SetPositionMode(ctx context.Context, mode PositionMode) error
	QuantizePrice(pair string, price decimal.Decimal, side Side) decimal.Decimal
	QuantizeAmount(pair string, amount decimal.Decimal) decimal.Decimal
}

type FillEvent struct {
	OrderID string
	Price   decimal.Decimal
	Amount  decimal.Decimal
	Side    Side
}

type OrderFailedEvent struct {
	OrderID string
	Reason  string
}

// OrderDoneEvent reports an order that left the book by cancel or full fill.
type OrderDoneEvent struct {
	OrderID   string
	Cancelled bool
}

type PositionModeEvent struct {
	Success bool
	Mode    PositionMode
}

// ExitSpreads are profit-taking and stop-loss distances as fractions.
type ExitSpreads struct {
	LongProfitTaking  float64
	ShortProfitTaking float64
	StopLoss          float64
}
