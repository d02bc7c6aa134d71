package strategy

import (
	"errors"
	"testing"

	"hl-mm-bot/internal/config"

	"github.com/shopspring/decimal"
)

func TestCheckRiskPositionLimit(t *testing.T) {
	cfg := config.RiskConfig{MaxPositionNotional: 1000}
	snap := RiskSnapshot{
		PositionNotional: decimal.NewFromInt(-800),
		ProposalNotional: decimal.NewFromInt(300),
	}
	if err := CheckRisk(cfg, snap); !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("expected position limit error, got %v", err)
	}
	snap.ProposalNotional = decimal.NewFromInt(200)
	if err := CheckRisk(cfg, snap); err != nil {
		t.Fatalf("expected notional at limit to pass, got %v", err)
	}
}

func TestCheckRiskOpenOrders(t *testing.T) {
	cfg := config.RiskConfig{MaxOpenOrders: 2}
	if err := CheckRisk(cfg, RiskSnapshot{OpenOrders: 1, ProposalOrders: 2}); !errors.Is(err, ErrOpenOrderLimit) {
		t.Fatalf("expected open order limit error, got %v", err)
	}
	if err := CheckRisk(cfg, RiskSnapshot{ProposalOrders: 2}); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestCheckRiskDisabledLimits(t *testing.T) {
	snap := RiskSnapshot{
		PositionNotional: decimal.NewFromInt(1_000_000),
		OpenOrders:       100,
	}
	if err := CheckRisk(config.RiskConfig{}, snap); err != nil {
		t.Fatalf("expected zero limits to be disabled, got %v", err)
	}
}
