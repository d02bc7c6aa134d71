package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"hl-mm-bot/internal/exec"
	"hl-mm-bot/internal/hl/exchange"
)

type exchangeClient interface {
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (exchange.Response, error)
	CancelOrder(ctx context.Context, asset int, orderID int64) (exchange.Response, error)
}

// exchangeAdapter turns executor orders into signed exchange actions.
// Rejections are marked permanent so the executor does not resubmit them.
type exchangeAdapter struct {
	client exchangeClient
	tif    exchange.Tif
}

func (e *exchangeAdapter) PlaceOrder(ctx context.Context, order exec.Order) (string, error) {
	if e.client == nil {
		return "", errors.New("exchange client is required")
	}
	tif := e.tif
	if order.Tif != "" {
		tif = exchange.Tif(order.Tif)
	}
	wire, err := exchange.LimitOrderWire(order.Asset, order.IsBuy, order.Size, order.LimitPrice, order.ReduceOnly, tif, order.ClientOrderID)
	if err != nil {
		return "", exec.Permanent(err)
	}
	resp, err := e.client.PlaceOrder(ctx, wire)
	if err != nil {
		return "", classify(err)
	}
	oid, err := exchange.PlacedOrderID(resp)
	if err != nil {
		return "", classify(err)
	}
	return oid, nil
}

func (e *exchangeAdapter) CancelOrder(ctx context.Context, cancel exec.Cancel) error {
	if e.client == nil {
		return errors.New("exchange client is required")
	}
	oid, err := strconv.ParseInt(cancel.OrderID, 10, 64)
	if err != nil {
		return exec.Permanent(fmt.Errorf("order id %q: %w", cancel.OrderID, err))
	}
	resp, err := e.client.CancelOrder(ctx, cancel.Asset, oid)
	if err != nil {
		return classify(err)
	}
	if _, err := resp.FirstStatus(); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var apiErr *exchange.APIError
	if errors.Is(err, exchange.ErrOrderNotFound) || errors.As(err, &apiErr) {
		return exec.Permanent(err)
	}
	return err
}
