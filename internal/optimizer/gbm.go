// Package optimizer derives quoting and exit spreads from historical
// volatility under a geometric Brownian motion model.
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	daysPerYear   = 365.25
	secondsPerDay = 24 * 3600
)

var ErrInvalidInput = errors.New("invalid optimizer input")

var intervalsPerDay = map[string]float64{
	"1m":  24 * 60,
	"5m":  24 * 12,
	"15m": 24 * 4,
	"30m": 24 * 2,
	"1h":  24,
	"4h":  6,
	"1d":  1,
}

// IntervalsPerDay returns how many candles of the given interval make a day.
// Unknown intervals are treated as one minute.
func IntervalsPerDay(interval string) float64 {
	if n, ok := intervalsPerDay[interval]; ok {
		return n
	}
	return intervalsPerDay["1m"]
}

type Params struct {
	TargetFillProb   float64
	RefreshTime      time.Duration
	StopLossRiskProb float64
	MaxHoldingDays   float64
	ProfitFactor     float64
}

func DefaultParams() Params {
	return Params{
		TargetFillProb:   0.25,
		RefreshTime:      15 * time.Second,
		StopLossRiskProb: 0.01,
		MaxHoldingDays:   1,
		ProfitFactor:     2.5,
	}
}

func (p Params) validate() error {
	if p.TargetFillProb <= 0 || p.TargetFillProb >= 1 {
		return fmt.Errorf("target fill probability %v: %w", p.TargetFillProb, ErrInvalidInput)
	}
	if p.StopLossRiskProb <= 0 || p.StopLossRiskProb >= 1 {
		return fmt.Errorf("stop loss risk probability %v: %w", p.StopLossRiskProb, ErrInvalidInput)
	}
	if p.RefreshTime <= 0 || p.MaxHoldingDays <= 0 || p.ProfitFactor <= 0 {
		return fmt.Errorf("refresh time, holding days and profit factor must be > 0: %w", ErrInvalidInput)
	}
	return nil
}

// Result holds spreads in percent, rounded to 4 decimals.
type Result struct {
	Asset              string          `json:"asset"`
	MidPrice           float64         `json:"mid_price"`
	RefreshSeconds     float64         `json:"order_refresh_time_sec"`
	DailyVolatilityPct float64         `json:"daily_volatility_pct"`
	BidSpread          decimal.Decimal `json:"bid_spread"`
	AskSpread          decimal.Decimal `json:"ask_spread"`
	LongProfitTaking   decimal.Decimal `json:"long_profit_taking_spread"`
	ShortProfitTaking  decimal.Decimal `json:"short_profit_taking_spread"`
	StopLoss           decimal.Decimal `json:"stop_loss_spread"`
	ZOrder             float64         `json:"z_score_order"`
	ZStopLoss          float64         `json:"z_score_stop_loss"`
	ComputedAtMS       int64           `json:"computed_at_ms"`
}

// DailyVolatility is the sample standard deviation of close-to-close log
// returns scaled to one day. Non-positive closes are skipped.
func DailyVolatility(closes []float64, interval string) (float64, error) {
	valid := validCloses(closes)
	if len(valid) < 3 {
		return 0, fmt.Errorf("need at least 3 valid closes, got %d: %w", len(valid), ErrInvalidInput)
	}
	returns := make([]float64, 0, len(valid)-1)
	for i := 1; i < len(valid); i++ {
		returns = append(returns, math.Log(valid[i]/valid[i-1]))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	return std * math.Sqrt(IntervalsPerDay(interval)), nil
}

// Calculate maps a daily volatility (in percent) to spreads: the quote spread
// that a refresh-length move reaches with the target fill probability, the
// profit-taking spread as a multiple of it, and the stop loss that a move over
// the holding period breaches with the given risk probability.
func Calculate(asset string, mid, dailyVolPct float64, p Params) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	if mid <= 0 {
		return Result{}, fmt.Errorf("mid price %v: %w", mid, ErrInvalidInput)
	}
	if dailyVolPct < 0 || math.IsNaN(dailyVolPct) {
		return Result{}, fmt.Errorf("daily volatility %v: %w", dailyVolPct, ErrInvalidInput)
	}
	annualVol := dailyVolPct / 100 * math.Sqrt(daysPerYear)
	dtOrder := p.RefreshTime.Seconds() / (daysPerYear * secondsPerDay)
	dtLoss := p.MaxHoldingDays / daysPerYear

	zOrder := math.Abs(normalQuantile(p.TargetFillProb / 2))
	zLoss := math.Abs(normalQuantile(p.StopLossRiskProb / 2))

	base := annualVol * math.Sqrt(dtOrder) * zOrder * 100
	profitTaking := base * p.ProfitFactor
	stopLoss := annualVol * math.Sqrt(dtLoss) * zLoss * 100

	return Result{
		Asset:              asset,
		MidPrice:           mid,
		RefreshSeconds:     p.RefreshTime.Seconds(),
		DailyVolatilityPct: dailyVolPct,
		BidSpread:          round4(base),
		AskSpread:          round4(base),
		LongProfitTaking:   round4(profitTaking),
		ShortProfitTaking:  round4(profitTaking),
		StopLoss:           round4(stopLoss),
		ZOrder:             round4(zOrder).InexactFloat64(),
		ZStopLoss:          round4(zLoss).InexactFloat64(),
	}, nil
}

// FromCloses estimates volatility from closes and prices off the last close.
func FromCloses(asset string, closes []float64, interval string, p Params) (Result, error) {
	dailyVol, err := DailyVolatility(closes, interval)
	if err != nil {
		return Result{}, err
	}
	valid := validCloses(closes)
	return Calculate(asset, valid[len(valid)-1], dailyVol*100, p)
}

func validCloses(closes []float64) []float64 {
	valid := make([]float64, 0, len(closes))
	for _, c := range closes {
		if c > 0 && !math.IsInf(c, 0) {
			valid = append(valid, c)
		}
	}
	return valid
}

// normalQuantile is the inverse standard normal CDF.
func normalQuantile(p float64) float64 {
	return -math.Sqrt2 * math.Erfcinv(2*p)
}

func round4(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(4)
}
