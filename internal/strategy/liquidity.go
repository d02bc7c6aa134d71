package strategy

import (
	"math"
	"sort"
	"time"
)

const (
	defaultAlpha = 0.1
	defaultKappa = 1.0
)

type consumedLevel struct {
	distance float64
	amount   float64
}

// LiquidityEstimator fits the order arrival model λ(δ) = α·exp(−κδ) to the
// liquidity consumed between successive order book snapshots.
type LiquidityEstimator struct {
	size    int
	samples [][]consumedLevel
	prev    *OrderBook
	lastTS  time.Time

	alpha float64
	kappa float64
	ok    bool
}

func NewLiquidityEstimator(bufferSize int) *LiquidityEstimator {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &LiquidityEstimator{size: bufferSize}
}

// Calculate ingests a snapshot. Bids of the previous book priced above the new
// best bid and asks priced below the new best ask are treated as filled at
// their distance from the previous mid.
func (l *LiquidityEstimator) Calculate(book OrderBook, ts time.Time) {
	if !book.Valid() {
		return
	}
	if !l.lastTS.IsZero() && !ts.After(l.lastTS) {
		return
	}
	l.lastTS = ts
	if l.prev == nil {
		l.prev = &book
		return
	}
	prev := l.prev
	prevMid := prev.Mid()
	bestBid := book.Bids[0].Price.InexactFloat64()
	bestAsk := book.Asks[0].Price.InexactFloat64()

	var tick []consumedLevel
	for _, lvl := range prev.Bids {
		price := lvl.Price.InexactFloat64()
		if price <= bestBid {
			break
		}
		tick = append(tick, consumedLevel{distance: math.Abs(prevMid - price), amount: lvl.Size.InexactFloat64()})
	}
	for _, lvl := range prev.Asks {
		price := lvl.Price.InexactFloat64()
		if price >= bestAsk {
			break
		}
		tick = append(tick, consumedLevel{distance: math.Abs(price - prevMid), amount: lvl.Size.InexactFloat64()})
	}
	l.samples = append(l.samples, tick)
	if len(l.samples) > l.size {
		l.samples = l.samples[len(l.samples)-l.size:]
	}
	l.prev = &book
	if l.IsReady() {
		l.fit()
	}
}

func (l *LiquidityEstimator) IsReady() bool {
	return len(l.samples) >= l.size
}

func (l *LiquidityEstimator) SampleCount() int {
	return len(l.samples)
}

// Params returns the latest fitted (α, κ). ok is false until a fit with a
// positive κ has succeeded.
func (l *LiquidityEstimator) Params() (alpha, kappa float64, ok bool) {
	return l.alpha, l.kappa, l.ok
}

// ParamsOrDefault returns the fitted values or (0.1, 1.0).
func (l *LiquidityEstimator) ParamsOrDefault() (alpha, kappa float64) {
	if !l.ok || l.kappa <= 0 {
		return defaultAlpha, defaultKappa
	}
	return l.alpha, l.kappa
}

func (l *LiquidityEstimator) Reset() {
	l.samples = nil
	l.prev = nil
	l.lastTS = time.Time{}
	l.alpha, l.kappa, l.ok = 0, 0, false
}

func (l *LiquidityEstimator) fit() {
	volumeAt := make(map[float64]float64)
	for _, tick := range l.samples {
		for _, c := range tick {
			if c.amount <= 0 {
				continue
			}
			volumeAt[c.distance] += c.amount
		}
	}
	if len(volumeAt) < 2 {
		l.ok = false
		return
	}
	distances := make([]float64, 0, len(volumeAt))
	for d := range volumeAt {
		distances = append(distances, d)
	}
	sort.Float64s(distances)

	// λ(δ) is the volume that traded at least δ away from mid.
	xs := make([]float64, len(distances))
	ys := make([]float64, len(distances))
	cum := 0.0
	for i := len(distances) - 1; i >= 0; i-- {
		cum += volumeAt[distances[i]]
		xs[i] = distances[i]
		ys[i] = math.Log(cum)
	}
	slope, intercept, ok := linearFit(xs, ys)
	if !ok || -slope <= 0 {
		l.ok = false
		return
	}
	l.alpha = math.Exp(intercept)
	l.kappa = -slope
	l.ok = true
}

func linearFit(xs, ys []float64) (slope, intercept float64, ok bool) {
	n := float64(len(xs))
	if n < 2 {
		return 0, 0, false
	}
	mx, my := mean(xs), mean(ys)
	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - mx
		sxx += dx * dx
		sxy += dx * (ys[i] - my)
	}
	if sxx == 0 {
		return 0, 0, false
	}
	slope = sxy / sxx
	intercept = my - slope*mx
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, 0, false
	}
	return slope, intercept, true
}
