package app

import (
	"context"
	"errors"
	"fmt"

	"hl-mm-bot/internal/optimizer"
	"hl-mm-bot/internal/state"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func (a *App) runScheduler(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.cfg.Optimizer.Schedule, func() {
		if _, err := a.runOptimizer(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("optimizer run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("optimizer schedule %q: %w", a.cfg.Optimizer.Schedule, err)
	}
	c.Start()
	a.log.Info("optimizer scheduled", zap.String("schedule", a.cfg.Optimizer.Schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// runOptimizer computes fresh parameters, stores them and, when configured,
// hands the exit spreads to the strategy.
func (a *App) runOptimizer(ctx context.Context) (optimizer.Result, error) {
	if a.optimizer == nil {
		return optimizer.Result{}, errors.New("optimizer is disabled")
	}
	res, err := a.optimizer.Run(ctx)
	if err != nil {
		return optimizer.Result{}, err
	}
	a.metrics.OptimizerRuns.Inc()
	if err := state.SaveOptimizerResult(ctx, a.store, res); err != nil {
		a.log.Warn("optimizer result save failed", zap.Error(err))
	}
	applied := false
	if a.cfg.Optimizer.Apply {
		if err := a.applyOptimizerResult(ctx, res); err != nil {
			a.log.Warn("optimizer result not applied", zap.Error(err))
		} else {
			applied = true
		}
	}
	a.recordOptimizerRun(res, applied)
	a.sendAlert(ctx, fmt.Sprintf("%s parameters: vol %.2f%%/day spread %s%% pt %s%%/%s%% sl %s%% applied=%t",
		res.Asset, res.DailyVolatilityPct, res.BidSpread, res.LongProfitTaking, res.ShortProfitTaking, res.StopLoss, applied))
	return res, nil
}

func (a *App) applyOptimizerResult(ctx context.Context, res optimizer.Result) error {
	var err error
	if doErr := a.do(ctx, func() {
		err = a.strategy.UpdateExitSpreads(res.LongProfitTaking.InexactFloat64(), res.ShortProfitTaking.InexactFloat64(), res.StopLoss.InexactFloat64())
	}); doErr != nil {
		return doErr
	}
	return err
}
