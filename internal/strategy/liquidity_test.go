package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func book(bids, asks [][2]float64) OrderBook {
	var b OrderBook
	for _, l := range bids {
		b.Bids = append(b.Bids, BookLevel{Price: decimal.NewFromFloat(l[0]), Size: decimal.NewFromFloat(l[1])})
	}
	for _, l := range asks {
		b.Asks = append(b.Asks, BookLevel{Price: decimal.NewFromFloat(l[0]), Size: decimal.NewFromFloat(l[1])})
	}
	return b
}

func TestLiquidityEstimatorFitsConsumedDepth(t *testing.T) {
	l := NewLiquidityEstimator(2)
	t0 := time.Unix(1_700_000_000, 0)

	l.Calculate(book([][2]float64{{99, 1}, {98, 2}}, [][2]float64{{101, 1}, {102, 2}}), t0)
	// both bid levels consumed: distances 1 and 2 from mid 100
	l.Calculate(book([][2]float64{{97.5, 1}}, [][2]float64{{101, 1}, {102, 2}}), t0.Add(time.Second))
	if l.IsReady() {
		t.Fatalf("expected not ready after one sample")
	}
	// both ask levels consumed: distances 1.75 and 2.75 from mid 99.25
	l.Calculate(book([][2]float64{{97.5, 1}}, [][2]float64{{103, 1}}), t0.Add(2*time.Second))
	if !l.IsReady() {
		t.Fatalf("expected ready once buffer is full")
	}
	alpha, kappa, ok := l.Params()
	if !ok {
		t.Fatalf("expected fitted parameters")
	}
	if kappa <= 0 || alpha <= 0 {
		t.Fatalf("expected positive alpha and kappa, got %v %v", alpha, kappa)
	}
	if alpha < 6 {
		t.Fatalf("expected alpha to exceed the total consumed volume at the nearest level, got %v", alpha)
	}
}

func TestLiquidityEstimatorDefaultsWithoutTrades(t *testing.T) {
	l := NewLiquidityEstimator(2)
	t0 := time.Unix(1_700_000_000, 0)
	b := book([][2]float64{{99, 1}}, [][2]float64{{101, 1}})
	for i := 0; i < 4; i++ {
		l.Calculate(b, t0.Add(time.Duration(i)*time.Second))
	}
	if !l.IsReady() {
		t.Fatalf("expected ready")
	}
	if _, _, ok := l.Params(); ok {
		t.Fatalf("expected no fit without consumed liquidity")
	}
	alpha, kappa := l.ParamsOrDefault()
	if alpha != 0.1 || kappa != 1.0 {
		t.Fatalf("expected default (0.1, 1.0), got (%v, %v)", alpha, kappa)
	}
}

func TestLiquidityEstimatorIgnoresStaleTimestamps(t *testing.T) {
	l := NewLiquidityEstimator(1)
	t0 := time.Unix(1_700_000_000, 0)
	b := book([][2]float64{{99, 1}}, [][2]float64{{101, 1}})
	l.Calculate(b, t0)
	l.Calculate(b, t0)
	if l.SampleCount() != 0 {
		t.Fatalf("expected repeated timestamp to be ignored, got %d samples", l.SampleCount())
	}
}

func TestLinearFit(t *testing.T) {
	slope, intercept, ok := linearFit([]float64{0, 1, 2}, []float64{1, 3, 5})
	if !ok {
		t.Fatalf("expected fit")
	}
	if math.Abs(slope-2) > 1e-12 || math.Abs(intercept-1) > 1e-12 {
		t.Fatalf("expected slope 2 intercept 1, got %v %v", slope, intercept)
	}
	if _, _, ok := linearFit([]float64{1, 1}, []float64{2, 3}); ok {
		t.Fatalf("expected degenerate fit to fail")
	}
}
