package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"hl-mm-bot/internal/hl/rest"
	"hl-mm-bot/internal/hl/ws"
	"hl-mm-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxSeenFillKeys = 2000
	eventBuffer     = 256
)

// State is the reconciled view of the trading account.
type State struct {
	AccountValue decimal.Decimal
	Withdrawable decimal.Decimal
	Positions    map[string]strategy.Position
	OpenOrders   []strategy.ActiveOrder
	At           time.Time
}

// Fill is a user fill as pushed by the exchange.
type Fill struct {
	Coin      string
	OrderID   string
	Side      strategy.Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Fee       decimal.Decimal
	ClosedPnl decimal.Decimal
	Time      time.Time
	Hash      string
}

func (f Fill) Event() strategy.FillEvent {
	return strategy.FillEvent{OrderID: f.OrderID, Price: f.Price, Amount: f.Size, Side: f.Side}
}

// Account keeps a short-lived cache of balances, positions and resting orders
// and turns user pushes into events. Events are Fill,
// strategy.OrderDoneEvent or strategy.OrderFailedEvent values.
type Account struct {
	rest *rest.Client
	log  *zap.Logger
	user string

	events chan any
	done   <-chan struct{}

	mu            sync.RWMutex
	state         State
	fresh         bool
	maxAge        time.Duration
	seenFillKeys  map[string]struct{}
	seenFillOrder []string
	now           func() time.Time
}

func New(restClient *rest.Client, log *zap.Logger, user string) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{
		rest:         restClient,
		log:          log,
		user:         strings.TrimSpace(user),
		events:       make(chan any, eventBuffer),
		maxAge:       2 * time.Second,
		seenFillKeys: make(map[string]struct{}),
		now:          time.Now,
	}
}

func (a *Account) Events() <-chan any {
	return a.events
}

// Subscribe registers user channels on router. Pushes stop being delivered
// once ctx is done.
func (a *Account) Subscribe(ctx context.Context, client *ws.Client, router *ws.Router) error {
	if a.user == "" {
		return errors.New("account user is required for ws subscriptions")
	}
	a.done = ctx.Done()
	router.Handle("userFills", a.handleUserFills)
	router.Handle("orderUpdates", a.handleOrderUpdates)
	if client == nil {
		return nil
	}
	for _, typ := range []string{"userFills", "orderUpdates"} {
		if err := client.Subscribe(ctx, ws.Subscription(map[string]any{"type": typ, "user": a.user})); err != nil {
			return err
		}
	}
	return nil
}

func (a *Account) Reconcile(ctx context.Context) (State, error) {
	if a.rest == nil {
		return State{}, errors.New("rest client is required")
	}
	if a.user == "" {
		return State{}, errors.New("account user is required")
	}
	ch, err := a.rest.ClearinghouseState(ctx, a.user)
	if err != nil {
		return State{}, fmt.Errorf("clearinghouse state: %w", err)
	}
	orders, err := a.rest.OpenOrders(ctx, a.user)
	if err != nil {
		return State{}, fmt.Errorf("open orders: %w", err)
	}
	state := State{
		AccountValue: ch.MarginSummary.AccountValue,
		Withdrawable: ch.Withdrawable,
		Positions:    convertPositions(ch.AssetPositions),
		OpenOrders:   convertOrders(orders),
		At:           a.now(),
	}
	a.mu.Lock()
	a.state = state
	a.fresh = true
	a.mu.Unlock()
	return copyState(state), nil
}

// Current returns the cached state, reconciling when it is older than maxAge
// or a fill or order update made it stale.
func (a *Account) Current(ctx context.Context) (State, error) {
	a.mu.RLock()
	ok := a.fresh && a.now().Sub(a.state.At) <= a.maxAge
	state := a.state
	a.mu.RUnlock()
	if ok {
		return copyState(state), nil
	}
	return a.Reconcile(ctx)
}

// Invalidate forces the next Current call to hit REST.
func (a *Account) Invalidate() {
	a.mu.Lock()
	a.fresh = false
	a.mu.Unlock()
}

func (a *Account) Balance(ctx context.Context) (decimal.Decimal, error) {
	st, err := a.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return st.Withdrawable, nil
}

func (a *Account) Positions(ctx context.Context) (map[string]strategy.Position, error) {
	st, err := a.Current(ctx)
	if err != nil {
		return nil, err
	}
	return st.Positions, nil
}

func (a *Account) ActiveOrders(ctx context.Context, coin string) ([]strategy.ActiveOrder, error) {
	st, err := a.Current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]strategy.ActiveOrder, 0, len(st.OpenOrders))
	for _, o := range st.OpenOrders {
		if coin == "" || strings.EqualFold(o.Pair, coin) {
			out = append(out, o)
		}
	}
	return out, nil
}

type userFillsPush struct {
	IsSnapshot bool       `json:"isSnapshot"`
	User       string     `json:"user"`
	Fills      []wireFill `json:"fills"`
}

type wireFill struct {
	Coin      string          `json:"coin"`
	Px        decimal.Decimal `json:"px"`
	Sz        decimal.Decimal `json:"sz"`
	Side      string          `json:"side"`
	Time      int64           `json:"time"`
	Oid       int64           `json:"oid"`
	Tid       int64           `json:"tid"`
	Hash      string          `json:"hash"`
	Fee       decimal.Decimal `json:"fee"`
	ClosedPnl decimal.Decimal `json:"closedPnl"`
}

func (a *Account) handleUserFills(data json.RawMessage) {
	var push userFillsPush
	if err := json.Unmarshal(data, &push); err != nil {
		a.log.Debug("userFills decode failed", zap.Error(err))
		return
	}
	fills := a.dedupeFills(push.Fills)
	if push.IsSnapshot || len(fills) == 0 {
		// Snapshot fills predate this session and only seed the dedupe set.
		return
	}
	a.Invalidate()
	for _, f := range fills {
		a.emit(f)
	}
}

func (a *Account) dedupeFills(raw []wireFill) []Fill {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Fill
	for _, w := range raw {
		if w.Oid == 0 || !w.Sz.IsPositive() {
			continue
		}
		key := fmt.Sprintf("%s:%d", w.Hash, w.Tid)
		if w.Hash == "" && w.Tid == 0 {
			key = fmt.Sprintf("%d:%d:%s:%s", w.Oid, w.Time, w.Sz, w.Px)
		}
		if _, ok := a.seenFillKeys[key]; ok {
			continue
		}
		a.seenFillKeys[key] = struct{}{}
		a.seenFillOrder = append(a.seenFillOrder, key)
		out = append(out, Fill{
			Coin:      w.Coin,
			OrderID:   strconv.FormatInt(w.Oid, 10),
			Side:      sideFromWire(w.Side),
			Price:     w.Px,
			Size:      w.Sz,
			Fee:       w.Fee,
			ClosedPnl: w.ClosedPnl,
			Time:      time.UnixMilli(w.Time).UTC(),
			Hash:      w.Hash,
		})
	}
	if len(a.seenFillOrder) > maxSeenFillKeys {
		evict := a.seenFillOrder[:len(a.seenFillOrder)-maxSeenFillKeys]
		for _, key := range evict {
			delete(a.seenFillKeys, key)
		}
		a.seenFillOrder = append([]string(nil), a.seenFillOrder[len(a.seenFillOrder)-maxSeenFillKeys:]...)
	}
	return out
}

type orderUpdate struct {
	Order struct {
		Coin string `json:"coin"`
		Oid  int64  `json:"oid"`
	} `json:"order"`
	Status string `json:"status"`
}

func (a *Account) handleOrderUpdates(data json.RawMessage) {
	var updates []orderUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		a.log.Debug("orderUpdates decode failed", zap.Error(err))
		return
	}
	for _, u := range updates {
		if u.Order.Oid == 0 {
			continue
		}
		ev, ok := orderEvent(strconv.FormatInt(u.Order.Oid, 10), u.Status)
		if !ok {
			continue
		}
		a.Invalidate()
		a.emit(ev)
	}
}

// orderEvent maps a terminal order status to a strategy event.
func orderEvent(orderID, status string) (any, bool) {
	switch {
	case status == "filled":
		return strategy.OrderDoneEvent{OrderID: orderID}, true
	case status == "canceled" || strings.HasSuffix(status, "Canceled"):
		return strategy.OrderDoneEvent{OrderID: orderID, Cancelled: true}, true
	case status == "rejected" || strings.HasSuffix(status, "Rejected"):
		return strategy.OrderFailedEvent{OrderID: orderID, Reason: status}, true
	}
	return nil, false
}

func (a *Account) emit(ev any) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func convertPositions(raw []rest.AssetPosition) map[string]strategy.Position {
	out := make(map[string]strategy.Position, len(raw))
	for _, ap := range raw {
		p := ap.Position
		if p.Coin == "" || p.Szi.IsZero() {
			continue
		}
		entry := decimal.Zero
		if p.EntryPx != nil {
			entry = *p.EntryPx
		}
		out[p.Coin] = strategy.Position{
			Pair:          p.Coin,
			Amount:        p.Szi,
			EntryPrice:    entry,
			Leverage:      p.Leverage.Value,
			UnrealizedPnL: p.UnrealizedPnl,
		}
	}
	return out
}

func convertOrders(raw []rest.OpenOrder) []strategy.ActiveOrder {
	out := make([]strategy.ActiveOrder, 0, len(raw))
	for _, o := range raw {
		if o.Oid == 0 {
			continue
		}
		out = append(out, strategy.ActiveOrder{
			ID:         strconv.FormatInt(o.Oid, 10),
			Pair:       o.Coin,
			Side:       sideFromWire(o.Side),
			Price:      o.LimitPx,
			Amount:     o.Sz,
			CreatedAt:  time.UnixMilli(o.Timestamp).UTC(),
			ReduceOnly: o.ReduceOnly,
		})
	}
	return out
}

func sideFromWire(side string) strategy.Side {
	if side == "B" {
		return strategy.SideBuy
	}
	return strategy.SideSell
}

func copyState(state State) State {
	out := state
	out.Positions = make(map[string]strategy.Position, len(state.Positions))
	for k, v := range state.Positions {
		out.Positions[k] = v
	}
	out.OpenOrders = append([]strategy.ActiveOrder(nil), state.OpenOrders...)
	return out
}
