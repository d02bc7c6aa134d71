package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Exec      ExecConfig      `yaml:"exec"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type RESTConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	Coin                      string        `yaml:"coin"`
	QuoteAsset                string        `yaml:"quote_asset"`
	OrderAmount               float64       `yaml:"order_amount"`
	RiskFactor                RiskFactor    `yaml:"risk_factor"`
	OrderAmountShapeFactor    float64       `yaml:"order_amount_shape_factor"`
	MinSpread                 float64       `yaml:"min_spread"`
	VolatilityBufferSize      int           `yaml:"volatility_buffer_size"`
	TradingIntensityBuffer    int           `yaml:"trading_intensity_buffer_size"`
	OrderRefreshTime          time.Duration `yaml:"order_refresh_time"`
	OrderRefreshTolerancePct  float64       `yaml:"order_refresh_tolerance_pct"`
	FilledOrderDelay          time.Duration `yaml:"filled_order_delay"`
	InventoryTargetBasePct    float64       `yaml:"inventory_target_base_pct"`
	Leverage                  int           `yaml:"leverage"`
	PositionMode              string        `yaml:"position_mode"`
	LongProfitTakingSpread    float64       `yaml:"long_profit_taking_spread"`
	ShortProfitTakingSpread   float64       `yaml:"short_profit_taking_spread"`
	StopLossSpread            float64       `yaml:"stop_loss_spread"`
	TimeBetweenStopLossOrders time.Duration `yaml:"time_between_stop_loss_orders"`
	StopLossSlippageBuffer    float64       `yaml:"stop_loss_slippage_buffer"`
	TickInterval              time.Duration `yaml:"tick_interval"`
	ErrorCooldown             time.Duration `yaml:"error_cooldown"`
	MaxConsecutiveErrors      int           `yaml:"max_consecutive_errors"`
	PositionModeRetryTicks    int           `yaml:"position_mode_retry_ticks"`
	AdaptiveGamma             GammaConfig   `yaml:"adaptive_gamma"`
}

// GammaConfig holds the learner parameters used when risk_factor is "adaptive".
type GammaConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Initial         float64 `yaml:"initial"`
	LearningRate    float64 `yaml:"learning_rate"`
	Min             float64 `yaml:"min"`
	Max             float64 `yaml:"max"`
	RewardWindow    int     `yaml:"reward_window"`
	UpdateFrequency int     `yaml:"update_frequency"`
}

type RiskConfig struct {
	MaxPositionNotional float64 `yaml:"max_position_notional"`
	MaxOpenOrders       int     `yaml:"max_open_orders"`
}

type ExecConfig struct {
	OrdersPerSecond float64       `yaml:"orders_per_second"`
	Burst           int           `yaml:"burst"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type OptimizerConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Schedule         string  `yaml:"schedule"`
	CandleInterval   string  `yaml:"candle_interval"`
	CandleCount      int     `yaml:"candle_count"`
	TargetFillProb   float64 `yaml:"target_fill_prob"`
	StopLossRiskProb float64 `yaml:"stop_loss_risk_prob"`
	ProfitFactor     float64 `yaml:"profit_factor"`
	MaxHoldingDays   float64 `yaml:"max_holding_days"`
	Apply            bool    `yaml:"apply"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.BreakerFailures == 0 {
		cfg.REST.BreakerFailures = 5
	}
	if cfg.REST.BreakerTimeout == 0 {
		cfg.REST.BreakerTimeout = 30 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = deriveWSURL(cfg.REST.BaseURL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-mm-bot.db"
	}
	applyStrategyDefaults(&cfg.Strategy)
	if cfg.Exec.OrdersPerSecond == 0 {
		cfg.Exec.OrdersPerSecond = 5
	}
	if cfg.Exec.Burst == 0 {
		cfg.Exec.Burst = 4
	}
	if cfg.Exec.MaxAttempts == 0 {
		cfg.Exec.MaxAttempts = 5
	}
	if cfg.Exec.InitialBackoff == 0 {
		cfg.Exec.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 5 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 1024
	}
	if cfg.Timescale.MaxOpenConns == 0 {
		cfg.Timescale.MaxOpenConns = 4
	}
	if cfg.Timescale.MaxIdleConns == 0 {
		cfg.Timescale.MaxIdleConns = 2
	}
	if cfg.Optimizer.Schedule == "" {
		cfg.Optimizer.Schedule = "@every 1h"
	}
	if cfg.Optimizer.CandleInterval == "" {
		cfg.Optimizer.CandleInterval = "1m"
	}
	if cfg.Optimizer.CandleCount == 0 {
		cfg.Optimizer.CandleCount = 1440
	}
	if cfg.Optimizer.TargetFillProb == 0 {
		cfg.Optimizer.TargetFillProb = 0.25
	}
	if cfg.Optimizer.StopLossRiskProb == 0 {
		cfg.Optimizer.StopLossRiskProb = 0.01
	}
	if cfg.Optimizer.ProfitFactor == 0 {
		cfg.Optimizer.ProfitFactor = 2.5
	}
	if cfg.Optimizer.MaxHoldingDays == 0 {
		cfg.Optimizer.MaxHoldingDays = 1
	}
}

func applyStrategyDefaults(s *StrategyConfig) {
	s.Coin = strings.ToUpper(strings.TrimSpace(s.Coin))
	if s.QuoteAsset == "" {
		s.QuoteAsset = "USDC"
	}
	if s.RiskFactor.Mode == "" {
		s.RiskFactor = RiskFactor{Mode: RiskFactorFixed, Value: 1}
	}
	if s.MinSpread == 0 {
		s.MinSpread = 0.1
	}
	if s.VolatilityBufferSize == 0 {
		s.VolatilityBufferSize = 200
	}
	if s.TradingIntensityBuffer == 0 {
		s.TradingIntensityBuffer = 200
	}
	if s.OrderRefreshTime == 0 {
		s.OrderRefreshTime = 15 * time.Second
	}
	if s.FilledOrderDelay == 0 {
		s.FilledOrderDelay = 60 * time.Second
	}
	if s.InventoryTargetBasePct == 0 {
		s.InventoryTargetBasePct = 50
	}
	if s.Leverage == 0 {
		s.Leverage = 1
	}
	if s.PositionMode == "" {
		s.PositionMode = "one_way"
	}
	if s.TimeBetweenStopLossOrders == 0 {
		s.TimeBetweenStopLossOrders = 60 * time.Second
	}
	if s.StopLossSlippageBuffer == 0 {
		s.StopLossSlippageBuffer = 0.5
	}
	if s.TickInterval == 0 {
		s.TickInterval = time.Second
	}
	if s.ErrorCooldown == 0 {
		s.ErrorCooldown = 60 * time.Second
	}
	if s.MaxConsecutiveErrors == 0 {
		s.MaxConsecutiveErrors = 3
	}
	if s.PositionModeRetryTicks == 0 {
		s.PositionModeRetryTicks = 10
	}
	g := &s.AdaptiveGamma
	switch s.RiskFactor.Mode {
	case RiskFactorSimpleAdaptive:
		*g = SimpleAdaptiveGamma()
		return
	case RiskFactorAdaptive:
		g.Enabled = true
	}
	if g.Initial == 0 {
		g.Initial = 1
	}
	if g.LearningRate == 0 {
		g.LearningRate = 0.01
	}
	if g.Min == 0 {
		g.Min = 0.1
	}
	if g.Max == 0 {
		g.Max = 10
	}
	if g.RewardWindow == 0 {
		g.RewardWindow = 100
	}
	if g.UpdateFrequency == 0 {
		g.UpdateFrequency = 10
	}
}

// SimpleAdaptiveGamma returns the preset learner parameters used by the
// simple_adaptive risk factor mode.
func SimpleAdaptiveGamma() GammaConfig {
	return GammaConfig{
		Enabled:         true,
		Initial:         1.0,
		LearningRate:    0.01,
		Min:             0.1,
		Max:             10,
		RewardWindow:    50,
		UpdateFrequency: 5,
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	if s.Coin == "" {
		return errors.New("strategy.coin is required")
	}
	if s.OrderAmount <= 0 {
		return errors.New("strategy.order_amount must be > 0")
	}
	if err := s.RiskFactor.validate(); err != nil {
		return err
	}
	if s.MinSpread <= 0 {
		return errors.New("strategy.min_spread must be > 0")
	}
	if s.VolatilityBufferSize <= 1 {
		return errors.New("strategy.volatility_buffer_size must be > 1")
	}
	if s.TradingIntensityBuffer <= 0 {
		return errors.New("strategy.trading_intensity_buffer_size must be > 0")
	}
	if s.OrderRefreshTime <= time.Second {
		return errors.New("strategy.order_refresh_time must be > 1s")
	}
	if s.OrderRefreshTolerancePct < 0 {
		return errors.New("strategy.order_refresh_tolerance_pct must be >= 0")
	}
	if s.InventoryTargetBasePct < 0 || s.InventoryTargetBasePct > 100 {
		return errors.New("strategy.inventory_target_base_pct must be within [0, 100]")
	}
	if s.Leverage < 1 || s.Leverage > 125 {
		return errors.New("strategy.leverage must be within [1, 125]")
	}
	switch s.PositionMode {
	case "one_way", "hedge":
	default:
		return fmt.Errorf("strategy.position_mode %q is not one of one_way, hedge", s.PositionMode)
	}
	if s.StopLossSlippageBuffer < 0 {
		return errors.New("strategy.stop_loss_slippage_buffer must be >= 0")
	}
	if s.MaxConsecutiveErrors <= 0 {
		return errors.New("strategy.max_consecutive_errors must be > 0")
	}
	if err := ValidateExitSpreads(s.MinSpread, s.LongProfitTakingSpread, s.ShortProfitTakingSpread, s.StopLossSpread); err != nil {
		return err
	}
	if err := s.AdaptiveGamma.validate(); err != nil {
		return err
	}
	if cfg.Risk.MaxPositionNotional < 0 {
		return errors.New("risk.max_position_notional must be >= 0")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	o := cfg.Optimizer
	if o.TargetFillProb <= 0 || o.TargetFillProb >= 1 {
		return errors.New("optimizer.target_fill_prob must be within (0, 1)")
	}
	if o.StopLossRiskProb <= 0 || o.StopLossRiskProb >= 1 {
		return errors.New("optimizer.stop_loss_risk_prob must be within (0, 1)")
	}
	if o.ProfitFactor <= 0 || o.MaxHoldingDays <= 0 {
		return errors.New("optimizer.profit_factor and optimizer.max_holding_days must be > 0")
	}
	if o.Enabled {
		if _, err := cron.ParseStandard(o.Schedule); err != nil {
			return fmt.Errorf("optimizer.schedule: %w", err)
		}
	}
	return nil
}

// ValidateExitSpreads checks the ordering between the quoting floor and the
// exit spreads: both profit-taking spreads must exceed min_spread and the
// stop-loss spread must exceed the larger profit-taking spread. All values are
// percentages.
func ValidateExitSpreads(minSpread, longPT, shortPT, stopLoss float64) error {
	if longPT <= minSpread {
		return fmt.Errorf("strategy.long_profit_taking_spread (%.4f) must be > min_spread (%.4f)", longPT, minSpread)
	}
	if shortPT <= minSpread {
		return fmt.Errorf("strategy.short_profit_taking_spread (%.4f) must be > min_spread (%.4f)", shortPT, minSpread)
	}
	if maxPT := math.Max(longPT, shortPT); stopLoss <= maxPT {
		return fmt.Errorf("strategy.stop_loss_spread (%.4f) must be > max profit taking spread (%.4f)", stopLoss, maxPT)
	}
	return nil
}

func (g GammaConfig) validate() error {
	if g.Min <= 0 {
		return errors.New("strategy.adaptive_gamma.min must be > 0")
	}
	if g.Min >= g.Max {
		return errors.New("strategy.adaptive_gamma.min must be < max")
	}
	if g.Initial < g.Min || g.Initial > g.Max {
		return errors.New("strategy.adaptive_gamma.initial must be within [min, max]")
	}
	if g.LearningRate <= 0 {
		return errors.New("strategy.adaptive_gamma.learning_rate must be > 0")
	}
	if g.RewardWindow < 20 {
		return errors.New("strategy.adaptive_gamma.reward_window must be >= 20")
	}
	if g.UpdateFrequency <= 0 {
		return errors.New("strategy.adaptive_gamma.update_frequency must be > 0")
	}
	return nil
}

func deriveWSURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return "wss://api.hyperliquid.xyz/ws"
	}
}
