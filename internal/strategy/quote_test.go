package strategy

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateQuoteReferenceValues(t *testing.T) {
	q, err := CalculateQuote(QuoteInputs{
		Mid:           100,
		Volatility:    0.01,
		Gamma:         1,
		Alpha:         0.1,
		Kappa:         1,
		MinSpreadFrac: 0.001,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	check := func(name string, got decimal.Decimal, want float64) {
		t.Helper()
		if math.Abs(got.InexactFloat64()-want) > 1e-3 {
			t.Fatalf("%s: expected %.4f, got %s", name, want, got)
		}
	}
	check("spread", q.OptimalSpread, 1.396)
	check("reservation", q.ReservationPrice, 100)
	check("bid", q.Bid, 99.302)
	check("ask", q.Ask, 100.698)
	if q.Naive {
		t.Fatalf("expected model quote")
	}
}

func TestCalculateQuoteInventorySkew(t *testing.T) {
	base := QuoteInputs{Mid: 100, Volatility: 0.5, Gamma: 2, Kappa: 1.5, MinSpreadFrac: 0.001}
	flat, err := CalculateQuote(base)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	base.InventoryDeviation = 0.4
	skewed, err := CalculateQuote(base)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// r = S − q·γσ = 100 − 0.4·1
	if math.Abs(skewed.ReservationPrice.InexactFloat64()-99.6) > 1e-9 {
		t.Fatalf("expected reservation 99.6, got %s", skewed.ReservationPrice)
	}
	if !skewed.OptimalSpread.Equal(flat.OptimalSpread) {
		t.Fatalf("expected spread independent of inventory, got %s vs %s", skewed.OptimalSpread, flat.OptimalSpread)
	}
}

func TestCalculateQuoteSpreadFloor(t *testing.T) {
	in := QuoteInputs{Mid: 100, Volatility: 0.001, Gamma: 10, Kappa: 1000, MinSpreadFrac: 0.02}
	q, err := CalculateQuote(in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.OptimalSpread.InexactFloat64() < in.MinSpreadFrac*in.Mid-1e-9 {
		t.Fatalf("expected spread floored at %v, got %s", in.MinSpreadFrac*in.Mid, q.OptimalSpread)
	}
	if !q.Bid.LessThan(q.Ask) {
		t.Fatalf("expected bid < ask, got %s >= %s", q.Bid, q.Ask)
	}
}

func TestCalculateQuoteDefaultsKappa(t *testing.T) {
	withDefault, err := CalculateQuote(QuoteInputs{Mid: 100, Volatility: 0.01, Gamma: 1, Kappa: 0})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	explicit, err := CalculateQuote(QuoteInputs{Mid: 100, Volatility: 0.01, Gamma: 1, Kappa: 1})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !withDefault.OptimalSpread.Equal(explicit.OptimalSpread) {
		t.Fatalf("expected κ=0 to use default κ=1")
	}
}

func TestCalculateQuoteErrors(t *testing.T) {
	if _, err := CalculateQuote(QuoteInputs{Mid: 100, Volatility: 0, Gamma: 1}); !errors.Is(err, ErrNoVolatility) {
		t.Fatalf("expected no volatility error, got %v", err)
	}
	if _, err := CalculateQuote(QuoteInputs{Mid: 100, Volatility: 0.1, Gamma: 0}); !errors.Is(err, ErrInvalidQuoteInput) {
		t.Fatalf("expected invalid input for zero gamma, got %v", err)
	}
	if _, err := CalculateQuote(QuoteInputs{Mid: 0, Volatility: 0.1, Gamma: 1}); !errors.Is(err, ErrInvalidQuoteInput) {
		t.Fatalf("expected invalid input for zero mid, got %v", err)
	}
}

func TestCalculateQuoteNonPositiveBidFallsBack(t *testing.T) {
	q, err := CalculateQuote(QuoteInputs{Mid: 1, Volatility: 0.5, Gamma: 0.1, Kappa: 0.5})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if math.Abs(q.Bid.InexactFloat64()-0.999) > 1e-12 {
		t.Fatalf("expected bid fallback 0.999, got %s", q.Bid)
	}
	if !q.Ask.IsPositive() {
		t.Fatalf("expected positive ask, got %s", q.Ask)
	}
}

func TestNaiveQuote(t *testing.T) {
	q := NaiveQuote(200, 0.01)
	if !q.Bid.Equal(decimal.NewFromInt(199)) || !q.Ask.Equal(decimal.NewFromInt(201)) {
		t.Fatalf("expected 199/201, got %s/%s", q.Bid, q.Ask)
	}
	if !q.Naive {
		t.Fatalf("expected naive flag")
	}
}

func TestInventoryDeviation(t *testing.T) {
	price := decimal.NewFromInt(100)
	cases := []struct {
		name      string
		balance   decimal.Decimal
		positions []Position
		want      float64
	}{
		{"quote only", decimal.NewFromInt(1000), nil, 0.5},
		{"long half", decimal.NewFromInt(500), []Position{{Amount: decimal.NewFromInt(5)}}, 0.5},
		{"short half", decimal.NewFromInt(500), []Position{{Amount: decimal.NewFromInt(-5)}}, 0.5},
		{"short quarter", decimal.NewFromInt(750), []Position{{Amount: decimal.RequireFromString("-2.5")}}, 0},
		{"empty", decimal.Zero, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := InventoryDeviation(tc.balance, tc.positions, price, 0.5)
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestUnrealizedPnL(t *testing.T) {
	positions := []Position{
		{Amount: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(95)},
		{Amount: decimal.NewFromInt(-1), EntryPrice: decimal.NewFromInt(110)},
	}
	got := UnrealizedPnL(positions, decimal.NewFromInt(100))
	if !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected pnl 20, got %s", got)
	}
}
