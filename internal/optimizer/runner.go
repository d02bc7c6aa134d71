package optimizer

import (
	"context"
	"fmt"
	"time"

	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/market"

	"go.uber.org/zap"
)

type CandleSource interface {
	Candles(ctx context.Context, coin, interval string, start, end time.Time) ([]market.Candle, error)
}

// Runner fetches recent candles for one coin and computes a Result from them.
type Runner struct {
	cfg    config.OptimizerConfig
	coin   string
	params Params
	source CandleSource
	log    *zap.Logger
	now    func() time.Time
}

func NewRunner(cfg config.OptimizerConfig, coin string, refresh time.Duration, source CandleSource, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	params := DefaultParams()
	if cfg.TargetFillProb > 0 {
		params.TargetFillProb = cfg.TargetFillProb
	}
	if cfg.StopLossRiskProb > 0 {
		params.StopLossRiskProb = cfg.StopLossRiskProb
	}
	if cfg.ProfitFactor > 0 {
		params.ProfitFactor = cfg.ProfitFactor
	}
	if cfg.MaxHoldingDays > 0 {
		params.MaxHoldingDays = cfg.MaxHoldingDays
	}
	if refresh > 0 {
		params.RefreshTime = refresh
	}
	return &Runner{
		cfg:    cfg,
		coin:   coin,
		params: params,
		source: source,
		log:    log.With(zap.String("component", "optimizer")),
		now:    time.Now,
	}
}

func (r *Runner) Run(ctx context.Context) (Result, error) {
	interval := r.cfg.CandleInterval
	if interval == "" {
		interval = "1m"
	}
	count := r.cfg.CandleCount
	if count <= 0 {
		count = 1440
	}
	end := r.now()
	step := time.Duration(float64(24*time.Hour) / IntervalsPerDay(interval))
	start := end.Add(-time.Duration(count) * step)

	candles, err := r.source.Candles(ctx, r.coin, interval, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("candles %s %s: %w", r.coin, interval, err)
	}
	res, err := FromCloses(r.coin, market.Closes(candles), interval, r.params)
	if err != nil {
		return Result{}, err
	}
	res.ComputedAtMS = end.UnixMilli()
	r.log.Info("optimal parameters computed",
		zap.Int("candles", len(candles)),
		zap.String("interval", interval),
		zap.Float64("daily_volatility_pct", res.DailyVolatilityPct),
		zap.String("spread_pct", res.BidSpread.String()),
		zap.String("profit_taking_pct", res.LongProfitTaking.String()),
		zap.String("stop_loss_pct", res.StopLoss.String()),
	)
	return res, nil
}
