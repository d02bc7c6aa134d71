package strategy

import (
	"errors"
	"fmt"

	"hl-mm-bot/internal/config"

	"github.com/shopspring/decimal"
)

var (
	ErrDataNotReady      = errors.New("market data not ready")
	ErrNoVolatility      = errors.New("volatility unavailable")
	ErrInvalidQuoteInput = errors.New("invalid quote input")
	ErrLeverageNotReady  = errors.New("leverage or position mode not confirmed")
	ErrCooldown          = errors.New("error cooldown active")
	ErrDesync            = errors.New("local and exchange order state disagree")
	ErrInvalidParams     = errors.New("invalid strategy parameters")
	ErrPositionLimit     = errors.New("position notional exceeds configured maximum")
	ErrOpenOrderLimit    = errors.New("open orders exceed configured maximum")
)

// RiskSnapshot is the exposure a new quote round would add to.
type RiskSnapshot struct {
	PositionNotional decimal.Decimal
	ProposalNotional decimal.Decimal
	OpenOrders       int
	ProposalOrders   int
}

// CheckRisk rejects a quote round that would breach the configured exposure
// limits. Zero limits are disabled.
func CheckRisk(cfg config.RiskConfig, snap RiskSnapshot) error {
	if cfg.MaxPositionNotional > 0 {
		limit := decimal.NewFromFloat(cfg.MaxPositionNotional)
		total := snap.PositionNotional.Abs().Add(snap.ProposalNotional)
		if total.GreaterThan(limit) {
			return fmt.Errorf("notional %s above %s: %w", total.StringFixed(2), limit.StringFixed(2), ErrPositionLimit)
		}
	}
	if cfg.MaxOpenOrders > 0 && snap.OpenOrders+snap.ProposalOrders > cfg.MaxOpenOrders {
		return fmt.Errorf("%d open plus %d proposed above %d: %w", snap.OpenOrders, snap.ProposalOrders, cfg.MaxOpenOrders, ErrOpenOrderLimit)
	}
	return nil
}
