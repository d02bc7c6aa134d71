package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hl-mm-bot/internal/exec"
	"hl-mm-bot/internal/hl/exchange"
	"hl-mm-bot/internal/market"
	"hl-mm-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type marketSource interface {
	Mid(ctx context.Context, coin string) (decimal.Decimal, error)
	Book(ctx context.Context, coin string) (strategy.OrderBook, error)
	Asset(coin string) (market.AssetInfo, bool)
	QuantizePrice(coin string, price decimal.Decimal, side strategy.Side) decimal.Decimal
	QuantizeAmount(coin string, amount decimal.Decimal) decimal.Decimal
}

type accountSource interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	Positions(ctx context.Context) (map[string]strategy.Position, error)
	ActiveOrders(ctx context.Context, coin string) ([]strategy.ActiveOrder, error)
	Invalidate()
}

type orderExecutor interface {
	PlaceOrder(ctx context.Context, order exec.Order) (string, error)
	CancelOrder(ctx context.Context, cancel exec.Cancel) error
}

type leverageSetter interface {
	UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) (exchange.Response, error)
}

type cloidCanceler interface {
	CancelByCloid(ctx context.Context, asset int, cloid string) (exchange.Response, error)
}

// connector is the strategy's view of Hyperliquid. Asynchronous outcomes such
// as position mode confirmation go through notify so they reach the strategy
// on its own goroutine.
type connector struct {
	market   marketSource
	account  accountSource
	executor orderExecutor
	leverage leverageSetter
	cloids   cloidCanceler
	quote    string
	notify   func(any)
	log      *zap.Logger
}

var _ strategy.Exchange = (*connector)(nil)

func (c *connector) MidPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return c.market.Mid(ctx, pair)
}

func (c *connector) OrderBook(ctx context.Context, pair string) (strategy.OrderBook, error) {
	return c.market.Book(ctx, pair)
}

// Balance reports withdrawable collateral. Perps settle in a single quote
// asset so any other asset is an error.
func (c *connector) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if asset != "" && c.quote != "" && !strings.EqualFold(asset, c.quote) {
		return decimal.Zero, fmt.Errorf("balance for %s not supported, collateral is %s", asset, c.quote)
	}
	return c.account.Balance(ctx)
}

func (c *connector) Positions(ctx context.Context) (map[string]strategy.Position, error) {
	return c.account.Positions(ctx)
}

func (c *connector) ActiveOrders(ctx context.Context, pair string) ([]strategy.ActiveOrder, error) {
	return c.account.ActiveOrders(ctx, pair)
}

func (c *connector) SubmitOrder(ctx context.Context, req strategy.OrderRequest) (string, error) {
	info, ok := c.market.Asset(req.Pair)
	if !ok {
		return "", fmt.Errorf("%w: %s", market.ErrUnknownAsset, req.Pair)
	}
	size := c.market.QuantizeAmount(req.Pair, req.Amount)
	if !size.IsPositive() {
		return "", fmt.Errorf("order amount %s rounds to zero", req.Amount)
	}
	limit, tif, err := c.limitFor(ctx, req)
	if err != nil {
		return "", err
	}
	order := exec.Order{
		Asset:         info.Index,
		IsBuy:         req.Side == strategy.SideBuy,
		Size:          size,
		LimitPrice:    limit,
		ReduceOnly:    req.Action == strategy.PositionClose,
		Tif:           string(tif),
		ClientOrderID: exec.NewClientOrderID(),
	}
	oid, err := c.executor.PlaceOrder(ctx, order)
	if err != nil {
		c.cancelAmbiguous(ctx, order, err)
		return "", err
	}
	c.account.Invalidate()
	c.log.Debug("order placed",
		zap.String("order_id", oid),
		zap.String("cloid", order.ClientOrderID),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.String("price", limit.String()),
		zap.String("size", size.String()),
		zap.Bool("reduce_only", order.ReduceOnly),
	)
	return oid, nil
}

// cancelAmbiguous pulls an order whose placement failed without an exchange
// verdict, since it may still have reached the book.
func (c *connector) cancelAmbiguous(ctx context.Context, order exec.Order, placeErr error) {
	var apiErr *exchange.APIError
	if c.cloids == nil || errors.As(placeErr, &apiErr) || ctx.Err() != nil {
		return
	}
	resp, err := c.cloids.CancelByCloid(ctx, order.Asset, order.ClientOrderID)
	if err == nil {
		_, err = resp.FirstStatus()
	}
	if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
		c.log.Warn("cancel by cloid failed", zap.String("cloid", order.ClientOrderID), zap.Error(err))
		return
	}
	c.log.Info("cleared ambiguous order", zap.String("cloid", order.ClientOrderID), zap.Bool("was_resting", err == nil))
}

// limitFor prices an order. Market orders become IOC limits at the touch
// moved by the slippage buffer, rounded away from the book.
func (c *connector) limitFor(ctx context.Context, req strategy.OrderRequest) (decimal.Decimal, exchange.Tif, error) {
	if req.Type != strategy.OrderTypeMarket {
		px := c.market.QuantizePrice(req.Pair, req.Price, req.Side)
		if !px.IsPositive() {
			return decimal.Zero, "", fmt.Errorf("limit price %s is invalid", req.Price)
		}
		return px, exchange.TifGtc, nil
	}
	ref, err := c.touch(ctx, req.Pair, req.Side)
	if err != nil {
		return decimal.Zero, "", err
	}
	one := decimal.NewFromInt(1)
	px := ref.Mul(one.Sub(req.SlippageBuffer))
	rounding := strategy.SideBuy
	if req.Side == strategy.SideBuy {
		px = ref.Mul(one.Add(req.SlippageBuffer))
		rounding = strategy.SideSell
	}
	px = c.market.QuantizePrice(req.Pair, px, rounding)
	if !px.IsPositive() {
		return decimal.Zero, "", fmt.Errorf("market order reference %s is invalid", ref)
	}
	return px, exchange.TifIoc, nil
}

func (c *connector) touch(ctx context.Context, pair string, side strategy.Side) (decimal.Decimal, error) {
	book, err := c.market.Book(ctx, pair)
	if err == nil && book.Valid() {
		if side == strategy.SideBuy {
			return book.Asks[0].Price, nil
		}
		return book.Bids[0].Price, nil
	}
	return c.market.Mid(ctx, pair)
}

func (c *connector) CancelOrder(ctx context.Context, pair, orderID string) error {
	info, ok := c.market.Asset(pair)
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownAsset, pair)
	}
	err := c.executor.CancelOrder(ctx, exec.Cancel{Asset: info.Index, OrderID: orderID})
	if errors.Is(err, exchange.ErrOrderNotFound) {
		c.account.Invalidate()
		return fmt.Errorf("%w: %s", strategy.ErrOrderGone, orderID)
	}
	if err == nil {
		c.account.Invalidate()
	}
	return err
}

func (c *connector) SetLeverage(ctx context.Context, pair string, leverage int) error {
	info, ok := c.market.Asset(pair)
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownAsset, pair)
	}
	if leverage <= 0 {
		return fmt.Errorf("leverage %d must be > 0", leverage)
	}
	if info.MaxLeverage > 0 && leverage > info.MaxLeverage {
		c.log.Warn("leverage above asset maximum, clamping", zap.Int("requested", leverage), zap.Int("max", info.MaxLeverage))
		leverage = info.MaxLeverage
	}
	_, err := c.leverage.UpdateLeverage(ctx, info.Index, leverage, true)
	return err
}

// SetPositionMode confirms one-way mode through notify. Hyperliquid perps have
// no hedge mode, so that request fails.
func (c *connector) SetPositionMode(ctx context.Context, mode strategy.PositionMode) error {
	if mode != strategy.PositionModeOneWay {
		c.notify(strategy.PositionModeEvent{Success: false, Mode: mode})
		return fmt.Errorf("position mode %s not supported", mode)
	}
	c.notify(strategy.PositionModeEvent{Success: true, Mode: mode})
	return nil
}

func (c *connector) QuantizePrice(pair string, price decimal.Decimal, side strategy.Side) decimal.Decimal {
	return c.market.QuantizePrice(pair, price, side)
}

func (c *connector) QuantizeAmount(pair string, amount decimal.Decimal) decimal.Decimal {
	return c.market.QuantizeAmount(pair, amount)
}
