package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/hl/rest"
	"hl-mm-bot/internal/logging"
	"hl-mm-bot/internal/market"
	"hl-mm-bot/internal/optimizer"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultRESTBaseURL = "https://api.hyperliquid.xyz"
	defaultRESTTimeout = 10 * time.Second
	defaultRefresh     = 15 * time.Second
)

type strategyOverrides struct {
	MinSpread               float64 `yaml:"min_spread"`
	OrderRefreshTime        string  `yaml:"order_refresh_time"`
	LongProfitTakingSpread  float64 `yaml:"long_profit_taking_spread"`
	ShortProfitTakingSpread float64 `yaml:"short_profit_taking_spread"`
	StopLossSpread          float64 `yaml:"stop_loss_spread"`
}

func main() {
	configPath := flag.String("config", "", "optional config path for REST and optimizer settings")
	coin := flag.String("coin", "", "perp coin, defaults to strategy.coin")
	interval := flag.String("interval", "", "candle interval (1m, 5m, 15m, 30m, 1h, 4h, 1d)")
	candles := flag.Int("candles", 0, "number of candles to fetch")
	refresh := flag.Duration("refresh", 0, "order refresh time used for the spread horizon")
	format := flag.String("format", "text", "output format: text, json or yaml")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "warn", Encoding: "console"}
	restCfg := config.RESTConfig{BaseURL: defaultRESTBaseURL, Timeout: defaultRESTTimeout}
	optCfg := config.OptimizerConfig{}
	refreshTime := defaultRefresh
	asset := ""
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		restCfg = cfg.REST
		optCfg = cfg.Optimizer
		refreshTime = cfg.Strategy.OrderRefreshTime
		asset = cfg.Strategy.Coin
	}
	if *coin != "" {
		asset = strings.ToUpper(strings.TrimSpace(*coin))
	}
	if asset == "" {
		fatal(errors.New("-coin is required without a config"))
	}
	if *interval != "" {
		optCfg.CandleInterval = *interval
	}
	if *candles > 0 {
		optCfg.CandleCount = *candles
	}
	if *refresh > 0 {
		refreshTime = *refresh
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := market.New(rest.New(restCfg, log), log)
	res, err := optimizer.NewRunner(optCfg, asset, refreshTime, source, log).Run(ctx)
	if err != nil {
		log.Error("optimizer failed", zap.String("coin", asset), zap.Error(err))
		os.Exit(1)
	}
	if err := render(os.Stdout, *format, res); err != nil {
		fatal(err)
	}
}

func render(w io.Writer, format string, res optimizer.Result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		out := map[string]strategyOverrides{"strategy": {
			MinSpread:               res.BidSpread.InexactFloat64(),
			OrderRefreshTime:        time.Duration(res.RefreshSeconds * float64(time.Second)).String(),
			LongProfitTakingSpread:  res.LongProfitTaking.InexactFloat64(),
			ShortProfitTakingSpread: res.ShortProfitTaking.InexactFloat64(),
			StopLossSpread:          res.StopLoss.InexactFloat64(),
		}}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		_, err := fmt.Fprintf(w, "%s mid %.6f\n"+
			"daily volatility   %.4f%%\n"+
			"bid/ask spread     %s%% / %s%%  (z=%.4f)\n"+
			"profit taking      %s%% long / %s%% short\n"+
			"stop loss          %s%%  (z=%.4f)\n",
			res.Asset, res.MidPrice, res.DailyVolatilityPct,
			res.BidSpread, res.AskSpread, res.ZOrder,
			res.LongProfitTaking, res.ShortProfitTaking,
			res.StopLoss, res.ZStopLoss)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "params: %v\n", err)
	os.Exit(1)
}
