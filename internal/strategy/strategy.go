package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// refreshSafetyMargin is subtracted from the refresh time when ageing quote
// orders so that cancels land before the next creation deadline.
const refreshSafetyMargin = time.Second

// ErrOrderGone is returned by an Exchange when a cancel targets an order that
// already left the book.
var ErrOrderGone = errors.New("order already filled or cancelled")

// Strategy is the per-pair market making engine. Tick and the On* handlers
// must be called from a single goroutine.
type Strategy struct {
	cfg     config.StrategyConfig
	risk    config.RiskConfig
	ex      Exchange
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sm      *StateMachine

	pair          string
	orderAmount   decimal.Decimal
	minSpreadFrac float64
	toleranceFrac float64
	targetBase    float64
	slippage      decimal.Decimal
	exitSpreads   ExitSpreads

	vol        *VolatilityEstimator
	liq        *LiquidityEstimator
	learner    *GammaLearner
	fixedGamma float64
	alpha      float64
	kappa      float64

	quote     Quote
	hasQuote  bool
	lastMid   decimal.Decimal
	lastBook  OrderBook
	lastDev   float64
	positions []Position

	tracker *OrderTracker
	exits   *ExitLock

	leverageReady     bool
	positionModeReady bool
	configureCounter  int
	ticksToReady      int

	createAt          time.Time
	lastErrorAt       time.Time
	consecutiveErrors int
	lastStopLossAt    time.Time
	lastTradePrice    decimal.Decimal
	paused            bool
}

func New(cfg config.StrategyConfig, risk config.RiskConfig, ex Exchange, log *zap.Logger, m *metrics.Metrics) (*Strategy, error) {
	if ex == nil {
		return nil, fmt.Errorf("exchange is required: %w", ErrInvalidParams)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if cfg.Coin == "" || cfg.OrderAmount <= 0 {
		return nil, fmt.Errorf("coin and order amount are required: %w", ErrInvalidParams)
	}
	if err := config.ValidateExitSpreads(cfg.MinSpread, cfg.LongProfitTakingSpread, cfg.ShortProfitTakingSpread, cfg.StopLossSpread); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidParams)
	}
	s := &Strategy{
		cfg:           cfg,
		risk:          risk,
		ex:            ex,
		log:           log.With(zap.String("pair", cfg.Coin)),
		metrics:       m,
		now:           time.Now,
		sm:            NewStateMachine(),
		pair:          cfg.Coin,
		orderAmount:   decimal.NewFromFloat(cfg.OrderAmount),
		minSpreadFrac: cfg.MinSpread / 100,
		toleranceFrac: cfg.OrderRefreshTolerancePct / 100,
		targetBase:    cfg.InventoryTargetBasePct / 100,
		slippage:      decimal.NewFromFloat(cfg.StopLossSlippageBuffer / 100),
		exitSpreads: ExitSpreads{
			LongProfitTaking:  cfg.LongProfitTakingSpread / 100,
			ShortProfitTaking: cfg.ShortProfitTakingSpread / 100,
			StopLoss:          cfg.StopLossSpread / 100,
		},
		vol:          NewVolatilityEstimator(cfg.VolatilityBufferSize),
		liq:          NewLiquidityEstimator(cfg.TradingIntensityBuffer),
		tracker:      NewOrderTracker(),
		exits:        NewExitLock(),
		ticksToReady: max(cfg.VolatilityBufferSize, cfg.TradingIntensityBuffer),
	}
	if cfg.RiskFactor.Adaptive() || cfg.AdaptiveGamma.Enabled {
		g := cfg.AdaptiveGamma
		learner, err := NewGammaLearner(GammaParams{
			Initial:         g.Initial,
			LearningRate:    g.LearningRate,
			Min:             g.Min,
			Max:             g.Max,
			RewardWindow:    g.RewardWindow,
			UpdateFrequency: g.UpdateFrequency,
		}, s.log)
		if err != nil {
			return nil, err
		}
		s.learner = learner
	} else {
		if cfg.RiskFactor.Value <= 0 {
			return nil, fmt.Errorf("risk factor %v must be > 0: %w", cfg.RiskFactor.Value, ErrInvalidParams)
		}
		s.fixedGamma = cfg.RiskFactor.Value
	}
	return s, nil
}

// Start requests leverage and position mode. Quoting stays blocked until both
// are confirmed.
func (s *Strategy) Start(ctx context.Context) {
	s.configureMarket(ctx)
}

func (s *Strategy) Stop() {
	s.sm.Apply(EventStop)
}

func (s *Strategy) State() State {
	return s.sm.State()
}

func (s *Strategy) Gamma() float64 {
	if s.learner != nil {
		return s.learner.Gamma()
	}
	return s.fixedGamma
}

func (s *Strategy) Learner() *GammaLearner {
	return s.learner
}

func (s *Strategy) SetPaused(paused bool) bool {
	changed := s.paused != paused
	s.paused = paused
	return changed
}

func (s *Strategy) Paused() bool {
	return s.paused
}

// UpdateExitSpreads replaces the profit-taking and stop-loss spreads, given in
// percent, after checking them against the quoting floor.
func (s *Strategy) UpdateExitSpreads(longPT, shortPT, stopLoss float64) error {
	if err := config.ValidateExitSpreads(s.cfg.MinSpread, longPT, shortPT, stopLoss); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidParams)
	}
	s.exitSpreads = ExitSpreads{
		LongProfitTaking:  longPT / 100,
		ShortProfitTaking: shortPT / 100,
		StopLoss:          stopLoss / 100,
	}
	s.log.Info("exit spreads updated",
		zap.Float64("long_profit_taking_pct", longPT),
		zap.Float64("short_profit_taking_pct", shortPT),
		zap.Float64("stop_loss_pct", stopLoss),
	)
	return nil
}

// Tick runs one decision cycle. Errors leave strategy state consistent; the
// caller logs them and continues on the next tick.
func (s *Strategy) Tick(ctx context.Context) error {
	now := s.now()
	if s.sm.State() == StateStopped {
		return nil
	}
	if !s.configured() {
		s.configureCounter++
		if s.configureCounter >= s.cfg.PositionModeRetryTicks {
			s.configureCounter = 0
			s.configureMarket(ctx)
		}
		return ErrLeverageNotReady
	}
	if s.inCooldown(now) {
		return fmt.Errorf("%s left: %w", s.cfg.ErrorCooldown-now.Sub(s.lastErrorAt), ErrCooldown)
	}
	if err := s.collectMarketData(ctx, now); err != nil {
		return err
	}
	if !s.isReady() {
		if s.ticksToReady > 0 {
			s.ticksToReady--
			if s.ticksToReady%10 == 0 {
				s.log.Info("collecting market data", zap.Int("ticks_remaining", s.ticksToReady))
			}
		}
		return nil
	}
	if s.sm.State() == StateCollectingData {
		s.sm.Apply(EventDataReady)
		s.log.Info("market data ready", zap.Float64("volatility", s.vol.CurrentValue()))
	}

	positions, err := s.sessionPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	s.positions = positions
	balance, err := s.ex.Balance(ctx, s.cfg.QuoteAsset)
	if err != nil {
		return fmt.Errorf("balance %s: %w", s.cfg.QuoteAsset, err)
	}
	s.lastDev = InventoryDeviation(balance, positions, s.lastMid, s.targetBase)
	s.metrics.InventoryDeviation.Set(s.lastDev)
	s.updateGamma(positions)

	if len(positions) == 0 {
		if s.sm.State() == StatePositionMgmt {
			s.sm.Apply(EventPositionClosed)
			s.log.Info("position closed, back to quoting")
		}
		if s.paused {
			return nil
		}
		return s.marketMake(ctx, now, balance)
	}
	return s.managePositions(ctx, now, positions)
}

func (s *Strategy) configured() bool {
	return s.leverageReady && s.positionModeReady
}

func (s *Strategy) configureMarket(ctx context.Context) {
	if !s.leverageReady {
		if err := s.ex.SetLeverage(ctx, s.pair, s.cfg.Leverage); err != nil {
			s.log.Warn("set leverage failed", zap.Int("leverage", s.cfg.Leverage), zap.Error(err))
		} else {
			s.leverageReady = true
			s.log.Info("leverage set", zap.Int("leverage", s.cfg.Leverage))
		}
	}
	if !s.positionModeReady {
		mode := ParsePositionMode(s.cfg.PositionMode)
		if err := s.ex.SetPositionMode(ctx, mode); err != nil {
			s.log.Warn("set position mode failed", zap.String("mode", string(mode)), zap.Error(err))
		}
	}
	s.maybeConfigured()
}

func (s *Strategy) maybeConfigured() {
	if s.configured() && s.sm.State() == StateInitializing {
		s.sm.Apply(EventConfigured)
	}
}

func (s *Strategy) inCooldown(now time.Time) bool {
	if s.lastErrorAt.IsZero() {
		return false
	}
	if elapsed := now.Sub(s.lastErrorAt); elapsed < s.cfg.ErrorCooldown {
		s.log.Debug("error cooldown active", zap.Duration("elapsed", elapsed), zap.Duration("cooldown", s.cfg.ErrorCooldown))
		return true
	}
	s.lastErrorAt = time.Time{}
	s.consecutiveErrors = 0
	if s.sm.State() == StateError {
		s.sm.Apply(EventRecovered)
		s.log.Info("error cooldown elapsed, resuming")
	}
	return false
}

func (s *Strategy) collectMarketData(ctx context.Context, now time.Time) error {
	mid, err := s.ex.MidPrice(ctx, s.pair)
	if err != nil {
		return fmt.Errorf("mid price: %w", err)
	}
	if !mid.IsPositive() {
		return fmt.Errorf("mid price %s: %w", mid, ErrDataNotReady)
	}
	s.lastMid = mid
	s.vol.AddSample(mid.InexactFloat64())

	book, err := s.ex.OrderBook(ctx, s.pair)
	if err != nil {
		s.log.Debug("order book unavailable", zap.Error(err))
		return nil
	}
	s.lastBook = book
	s.liq.Calculate(book, now)
	if s.liq.IsReady() {
		if alpha, kappa, ok := s.liq.Params(); ok {
			s.alpha, s.kappa = alpha, kappa
		}
	}
	return nil
}

func (s *Strategy) isReady() bool {
	return s.vol.IsReady() && s.ticksToReady <= 0
}

func (s *Strategy) sessionPositions(ctx context.Context) ([]Position, error) {
	all, err := s.ex.Positions(ctx)
	if err != nil {
		return nil, err
	}
	var out []Position
	for _, p := range all {
		if p.Pair == s.pair && !p.Amount.IsZero() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Strategy) volatility() float64 {
	return s.vol.ValueOrDefault(s.lastMid.InexactFloat64())
}

func (s *Strategy) updateGamma(positions []Position) {
	if s.learner == nil {
		s.metrics.Gamma.Set(s.fixedGamma)
		return
	}
	mid := s.lastMid.InexactFloat64()
	pnl := UnrealizedPnL(positions, s.lastMid).InexactFloat64()
	relVol := s.volatility() / mid
	relSpread := 0.01
	if s.hasQuote && mid > 0 {
		relSpread = s.quote.OptimalSpread.InexactFloat64() / mid
	}
	gamma := s.learner.Update(pnl, s.lastDev, relVol, relSpread)
	s.metrics.Gamma.Set(gamma)
}

// recomputeQuotes refreshes the quote state. σ ≤ 0 leaves the previous quote
// untouched; any other failure falls back to a min-spread quote around mid.
func (s *Strategy) recomputeQuotes() {
	mid := s.lastMid.InexactFloat64()
	alpha, kappa := defaultAlpha, defaultKappa
	if s.kappa > 0 {
		alpha, kappa = s.alpha, s.kappa
	}
	q, err := CalculateQuote(QuoteInputs{
		Mid:                mid,
		InventoryDeviation: s.lastDev,
		Volatility:         s.volatility(),
		Gamma:              s.Gamma(),
		Alpha:              alpha,
		Kappa:              kappa,
		MinSpreadFrac:      s.minSpreadFrac,
	})
	switch {
	case errors.Is(err, ErrNoVolatility):
		s.log.Debug("volatility unavailable, keeping previous quote")
		return
	case err != nil:
		s.log.Warn("quote calculation failed, using naive quote", zap.Error(err))
		q = NaiveQuote(mid, s.minSpreadFrac)
	}
	s.quote = q
	s.hasQuote = true
	s.metrics.ReservationPrice.Set(q.ReservationPrice.InexactFloat64())
	s.metrics.OptimalSpread.Set(q.OptimalSpread.InexactFloat64())
	s.metrics.Volatility.Set(s.volatility())
	s.log.Debug("quote updated",
		zap.Float64("mid", mid),
		zap.Float64("inventory_deviation", s.lastDev),
		zap.Float64("gamma", s.Gamma()),
		zap.Float64("kappa", kappa),
		zap.String("reservation", q.ReservationPrice.String()),
		zap.String("spread", q.OptimalSpread.String()),
		zap.String("bid", q.Bid.String()),
		zap.String("ask", q.Ask.String()),
	)
}

func (s *Strategy) marketMake(ctx context.Context, now time.Time, balance decimal.Decimal) error {
	s.exits.Clear()
	if s.sm.State() == StateReady {
		s.sm.Apply(EventQuoting)
	}
	s.recomputeQuotes()
	proposal := s.baseProposal()

	remote, err := s.ex.ActiveOrders(ctx, s.pair)
	if err != nil {
		return fmt.Errorf("active orders: %w", err)
	}
	unknown := s.tracker.Reconcile(remote, now)

	cancelled := s.cancelStaleOrders(ctx, now, true)
	if !cancelled && s.tracker.Len() > 0 && !now.Before(s.createAt) {
		s.log.Info("creation deadline passed with orders outstanding, cancelling", zap.Int("orders", s.tracker.Len()))
		for _, o := range s.tracker.Orders() {
			s.cancel(ctx, o.ID, now)
		}
	}
	for _, o := range unknown {
		s.log.Warn("cancelling untracked exchange order", zap.String("order_id", o.ID), zap.String("side", string(o.Side)))
		s.cancel(ctx, o.ID, now)
	}

	if !s.toCreateOrders(proposal, now, len(remote)) {
		return nil
	}
	proposal = s.applyBudgetConstraint(proposal, balance)
	if err := CheckRisk(s.risk, RiskSnapshot{
		ProposalNotional: proposal.Notional(),
		OpenOrders:       len(remote),
		ProposalOrders:   proposal.Len(),
	}); err != nil {
		s.log.Warn("proposal rejected by risk limits", zap.Error(err))
		return nil
	}
	s.executeProposal(ctx, proposal, now)
	return nil
}

func (s *Strategy) baseProposal() Proposal {
	var p Proposal
	if !s.hasQuote {
		return p
	}
	size := s.ex.QuantizeAmount(s.pair, s.orderAmount)
	if !size.IsPositive() {
		return p
	}
	bid := s.ex.QuantizePrice(s.pair, s.quote.Bid, SideBuy)
	ask := s.ex.QuantizePrice(s.pair, s.quote.Ask, SideSell)
	if bid.IsPositive() {
		p.Buys = append(p.Buys, PriceSize{Price: bid, Size: size})
	}
	if ask.IsPositive() {
		p.Sells = append(p.Sells, PriceSize{Price: ask, Size: size})
	}
	return p
}

// toCreateOrders gates creation on the refresh timer and on both the local
// tracker and the exchange reporting no live orders.
func (s *Strategy) toCreateOrders(p Proposal, now time.Time, remoteCount int) bool {
	if now.Before(s.createAt) || p.Empty() {
		return false
	}
	if n := s.tracker.Len(); n > 0 {
		s.log.Debug("local tracking shows active orders, waiting", zap.Int("orders", n))
		return false
	}
	if remoteCount > 0 {
		s.log.Info("exchange shows active orders, waiting", zap.Int("orders", remoteCount), zap.Error(ErrDesync))
		return false
	}
	return true
}

// applyBudgetConstraint keeps each order only if its full margin fits the
// remaining balance.
func (s *Strategy) applyBudgetConstraint(p Proposal, balance decimal.Decimal) Proposal {
	leverage := decimal.NewFromInt(int64(max(s.cfg.Leverage, 1)))
	available := balance
	var out Proposal
	fit := func(o PriceSize) bool {
		margin := o.Price.Mul(o.Size).Div(leverage)
		if margin.GreaterThan(available) {
			return false
		}
		available = available.Sub(margin)
		return true
	}
	for _, o := range p.Buys {
		if fit(o) {
			out.Buys = append(out.Buys, o)
		}
	}
	for _, o := range p.Sells {
		if fit(o) {
			out.Sells = append(out.Sells, o)
		}
	}
	if dropped := p.Len() - out.Len(); dropped > 0 {
		s.log.Info("orders dropped by budget", zap.Int("dropped", dropped), zap.String("balance", balance.String()))
	}
	return out
}

func (s *Strategy) executeProposal(ctx context.Context, p Proposal, now time.Time) {
	placed := 0
	submit := func(side Side, o PriceSize) {
		id, err := s.ex.SubmitOrder(ctx, OrderRequest{
			Pair:   s.pair,
			Side:   side,
			Amount: o.Size,
			Type:   OrderTypeLimit,
			Price:  o.Price,
			Action: PositionOpen,
		})
		if err != nil {
			s.log.Warn("quote submission failed", zap.String("side", string(side)), zap.String("price", o.Price.String()), zap.Error(err))
			s.registerError(now)
			return
		}
		s.tracker.Add(ActiveOrder{ID: id, Pair: s.pair, Side: side, Price: o.Price, Amount: o.Size, CreatedAt: now})
		s.metrics.QuotesPlaced.Inc()
		placed++
		s.log.Info("quote placed", zap.String("order_id", id), zap.String("side", string(side)), zap.String("price", o.Price.String()), zap.String("size", o.Size.String()))
	}
	for _, o := range p.Buys {
		submit(SideBuy, o)
	}
	for _, o := range p.Sells {
		submit(SideSell, o)
	}
	if placed > 0 {
		s.createAt = now.Add(s.cfg.OrderRefreshTime)
	}
}

// cancelStaleOrders cancels tracked quotes that reached refresh age or, when
// checkPrice is set, drifted beyond tolerance from the current quote.
func (s *Strategy) cancelStaleOrders(ctx context.Context, now time.Time, checkPrice bool) bool {
	maxAge := s.cfg.OrderRefreshTime - refreshSafetyMargin
	cancelled := false
	for _, o := range s.tracker.Orders() {
		reason := ""
		if age := now.Sub(o.CreatedAt); age >= maxAge {
			reason = "age"
		} else if checkPrice && s.hasQuote && s.priceDeviates(o) {
			reason = "price"
		}
		if reason == "" {
			continue
		}
		if s.tracker.cancelRecentlySent(o.ID, now) {
			continue
		}
		s.log.Info("cancelling quote", zap.String("order_id", o.ID), zap.String("reason", reason))
		if s.cancel(ctx, o.ID, now) {
			cancelled = true
		}
	}
	return cancelled
}

func (s *Strategy) priceDeviates(o ActiveOrder) bool {
	target := s.quote.Ask
	if o.Side == SideBuy {
		target = s.quote.Bid
	}
	if !target.IsPositive() {
		return false
	}
	dev := o.Price.Sub(target).Abs().Div(target).InexactFloat64()
	return dev > s.toleranceFrac
}

func (s *Strategy) cancel(ctx context.Context, orderID string, now time.Time) bool {
	err := s.ex.CancelOrder(ctx, s.pair, orderID)
	switch {
	case err == nil:
		s.tracker.markCancelSent(orderID, now)
		s.metrics.OrdersCancelled.Inc()
		return true
	case errors.Is(err, ErrOrderGone):
		s.tracker.Remove(orderID)
		s.exits.Remove(orderID)
		return false
	default:
		s.log.Warn("cancel failed", zap.String("order_id", orderID), zap.Error(err))
		s.registerError(now)
		return false
	}
}

func (s *Strategy) managePositions(ctx context.Context, now time.Time, positions []Position) error {
	if st := s.sm.State(); st == StateReady || st == StateActiveMM {
		s.sm.Apply(EventPositionOpened)
	}
	if remote, err := s.ex.ActiveOrders(ctx, s.pair); err == nil {
		s.tracker.Reconcile(remote, now)
	} else {
		s.log.Debug("active orders unavailable", zap.Error(err))
	}
	s.cancelStaleOrders(ctx, now, false)

	if s.exits.Pending(now) {
		return nil
	}
	bid, ask := s.lastBook.BestBid(), s.lastBook.BestAsk()
	if !bid.IsPositive() || !ask.IsPositive() {
		bid, ask = s.lastMid, s.lastMid
	}
	for _, pos := range positions {
		if order, ok := StopLossOrder(pos, bid, ask, s.exitSpreads.StopLoss); ok {
			if !s.lastStopLossAt.IsZero() && now.Sub(s.lastStopLossAt) < s.cfg.TimeBetweenStopLossOrders {
				s.log.Debug("stop loss throttled", zap.Time("last_stop_loss", s.lastStopLossAt))
				return nil
			}
			s.metrics.StopLossTriggered.Inc()
			s.log.Warn("stop loss triggered",
				zap.String("entry", pos.EntryPrice.String()),
				zap.String("amount", pos.Amount.String()),
				zap.String("bid", bid.String()),
				zap.String("ask", ask.String()),
			)
			if s.submitExit(ctx, order, now) {
				s.lastStopLossAt = now
			}
			return nil
		}
		if order, ok := ProfitTakingOrder(pos, bid, ask, s.exitSpreads); ok {
			s.submitExit(ctx, order, now)
			return nil
		}
	}
	return nil
}

func (s *Strategy) submitExit(ctx context.Context, order ExitOrder, now time.Time) bool {
	size := s.ex.QuantizeAmount(s.pair, order.Size)
	if !size.IsPositive() {
		return false
	}
	req := OrderRequest{
		Pair:   s.pair,
		Side:   order.Side,
		Amount: size,
		Type:   order.Type,
		Price:  order.Price,
		Action: PositionClose,
	}
	if order.Type == OrderTypeLimit {
		req.Price = s.ex.QuantizePrice(s.pair, order.Price, order.Side)
	} else {
		req.SlippageBuffer = s.slippage
	}
	id, err := s.ex.SubmitOrder(ctx, req)
	if err != nil {
		s.log.Warn("exit submission failed", zap.String("kind", string(order.Kind)), zap.Error(err))
		s.registerError(now)
		return false
	}
	s.exits.Record(id, now)
	s.metrics.ExitOrdersPlaced.Inc()
	s.log.Info("exit order placed",
		zap.String("order_id", id),
		zap.String("kind", string(order.Kind)),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.String("price", req.Price.String()),
		zap.String("size", size.String()),
	)
	return true
}

func (s *Strategy) registerError(now time.Time) {
	s.consecutiveErrors++
	s.lastErrorAt = now
	s.log.Warn("order error recorded",
		zap.Int("consecutive_errors", s.consecutiveErrors),
		zap.Duration("cooldown", s.cfg.ErrorCooldown),
	)
	if s.consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
		if s.sm.State() != StateError {
			s.sm.Apply(EventErrorLimit)
			s.metrics.ErrorEscalations.Inc()
		}
		s.log.Error("max consecutive order errors reached; check balance, leverage or connector settings",
			zap.Int("consecutive_errors", s.consecutiveErrors))
	}
}

// OnFill delays the next quote round and records the trade price.
func (s *Strategy) OnFill(ev FillEvent) {
	now := s.now()
	s.lastTradePrice = ev.Price
	s.createAt = now.Add(s.cfg.FilledOrderDelay)
	s.log.Info("order filled",
		zap.String("order_id", ev.OrderID),
		zap.String("side", string(ev.Side)),
		zap.String("price", ev.Price.String()),
		zap.String("amount", ev.Amount.String()),
		zap.Time("next_create", s.createAt),
	)
}

func (s *Strategy) OnOrderFailed(ev OrderFailedEvent) {
	s.tracker.Remove(ev.OrderID)
	s.exits.Remove(ev.OrderID)
	s.metrics.OrdersFailed.Inc()
	s.log.Warn("order failed", zap.String("order_id", ev.OrderID), zap.String("reason", ev.Reason))
	s.registerError(s.now())
}

func (s *Strategy) OnOrderDone(ev OrderDoneEvent) {
	tracked := s.tracker.Remove(ev.OrderID)
	exit := s.exits.Has(ev.OrderID)
	s.exits.Remove(ev.OrderID)
	if tracked || exit {
		s.log.Debug("order done", zap.String("order_id", ev.OrderID), zap.Bool("cancelled", ev.Cancelled), zap.Bool("exit", exit))
	}
}

func (s *Strategy) OnPositionModeChanged(ev PositionModeEvent) {
	if !ev.Success {
		s.log.Error("position mode change failed", zap.String("mode", string(ev.Mode)))
		return
	}
	s.positionModeReady = true
	s.log.Info("position mode set", zap.String("mode", string(ev.Mode)))
	s.maybeConfigured()
}
