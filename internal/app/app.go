package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hl-mm-bot/internal/account"
	"hl-mm-bot/internal/alerts"
	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/exec"
	"hl-mm-bot/internal/hl/exchange"
	"hl-mm-bot/internal/hl/rest"
	"hl-mm-bot/internal/hl/ws"
	"hl-mm-bot/internal/market"
	"hl-mm-bot/internal/metrics"
	"hl-mm-bot/internal/optimizer"
	"hl-mm-bot/internal/state"
	"hl-mm-bot/internal/state/sqlite"
	"hl-mm-bot/internal/strategy"
	"hl-mm-bot/internal/timescale"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	cloidRetention  = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

type pruner interface {
	PruneBefore(ctx context.Context, prefix string, cutoff time.Time) (int64, error)
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	rest      *rest.Client
	ws        *ws.Client
	router    *ws.Router
	exchange  *exchange.Client
	market    *market.MarketData
	account   *account.Account
	executor  *exec.Executor
	conn      *connector
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	timescale *timescale.Writer
	strategy  *strategy.Strategy
	optimizer *optimizer.Runner

	events chan any
	calls  chan func()

	lastState      strategy.State
	lastStopLoss   time.Time
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.REST, log)
	wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	marketData := market.New(restClient, log)

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = walletAddress
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	if vaultAddress != "" && os.Getenv("HL_ACCOUNT_ADDRESS") == "" {
		accountAddress = vaultAddress
	}
	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", walletAddress, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)

	accountClient := account.New(restClient, log, accountAddress)
	executor := exec.New(&exchangeAdapter{client: exClient, tif: exchange.TifGtc}, store, cfg.Exec, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale: %w", err)
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		rest:      restClient,
		ws:        wsClient,
		router:    ws.NewRouter(),
		exchange:  exClient,
		market:    marketData,
		account:   accountClient,
		executor:  executor,
		metrics:   m,
		prom:      prom,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		timescale: writer,
		events:    make(chan any, 64),
		calls:     make(chan func()),
	}
	a.conn = &connector{
		market:   marketData,
		account:  accountClient,
		executor: executor,
		leverage: exClient,
		cloids:   exClient,
		quote:    cfg.Strategy.QuoteAsset,
		notify:   a.notify,
		log:      log.With(zap.String("component", "connector")),
	}
	strat, err := strategy.New(cfg.Strategy, cfg.Risk, a.conn, log, m)
	if err != nil {
		return nil, err
	}
	a.strategy = strat
	if cfg.Optimizer.Enabled {
		a.optimizer = optimizer.NewRunner(cfg.Optimizer, cfg.Strategy.Coin, cfg.Strategy.OrderRefreshTime, marketData, log)
	}
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()
	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if ns, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", ns.Key), zap.Uint64("nonce_seed", ns.Last))
	}
	coin := a.cfg.Strategy.Coin
	if err := a.market.RefreshMeta(ctx); err != nil {
		return fmt.Errorf("refresh meta: %w", err)
	}
	if _, ok := a.market.Asset(coin); !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownAsset, coin)
	}
	a.pruneClientOrderIDs(ctx)

	st, err := a.account.Reconcile(ctx)
	if err != nil {
		return err
	}
	a.log.Info("reconciled state",
		zap.String("withdrawable", st.Withdrawable.String()),
		zap.String("account_value", st.AccountValue.String()),
		zap.Int("positions", len(st.Positions)),
		zap.Int("open_orders", len(st.OpenOrders)),
	)
	a.cancelOpenOrders(ctx, st.OpenOrders)
	a.restoreSnapshot(ctx)
	a.restoreOptimizerResult(ctx)

	if err := a.market.Subscribe(ctx, a.ws, a.router, coin); err != nil {
		return err
	}
	if err := a.account.Subscribe(ctx, a.ws, a.router); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ws.Run(gctx, func(raw json.RawMessage) { a.router.Dispatch(raw) })
	})
	g.Go(func() error { return a.serveMetrics(gctx) })
	if chatID, allowed, poll, ok := a.operatorSettings(); ok {
		g.Go(func() error {
			a.operatorLoop(gctx, chatID, allowed, poll)
			return nil
		})
	}
	if a.optimizer != nil {
		g.Go(func() error { return a.runScheduler(gctx) })
	}
	a.timescale.Start(gctx)
	g.Go(func() error { return a.loop(gctx) })
	a.sendAlert(ctx, fmt.Sprintf("Market maker started on %s", coin))
	return g.Wait()
}

// loop owns the strategy. Ticks, exchange events and operator calls are all
// serialized here.
func (a *App) loop(ctx context.Context) error {
	a.strategy.Start(ctx)
	ticker := time.NewTicker(a.cfg.Strategy.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case <-ticker.C:
			a.tick(ctx)
		case ev := <-a.account.Events():
			a.dispatch(ev)
		case ev := <-a.events:
			a.dispatch(ev)
		case fn := <-a.calls:
			fn()
		}
	}
}

func (a *App) tick(ctx context.Context) {
	err := a.strategy.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, strategy.ErrCooldown), errors.Is(err, strategy.ErrLeverageNotReady):
		a.log.Debug("strategy tick skipped", zap.Error(err))
	default:
		a.log.Warn("strategy tick failed", zap.Error(err))
	}
	st := a.strategy.Status()
	a.saveSnapshot(ctx, st)
	a.recordQuote(st)
	a.watchTransitions(ctx, st)
}

func (a *App) dispatch(ev any) {
	switch e := ev.(type) {
	case account.Fill:
		if !strings.EqualFold(e.Coin, a.cfg.Strategy.Coin) {
			return
		}
		a.strategy.OnFill(e.Event())
		a.recordFill(e)
	case strategy.OrderDoneEvent:
		a.strategy.OnOrderDone(e)
	case strategy.OrderFailedEvent:
		a.strategy.OnOrderFailed(e)
	case strategy.PositionModeEvent:
		a.strategy.OnPositionModeChanged(e)
	default:
		a.log.Debug("unhandled event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// notify queues an event for the loop without blocking the caller, which may
// be the loop itself.
func (a *App) notify(ev any) {
	select {
	case a.events <- ev:
	default:
		a.log.Warn("event queue full, dropping event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// do runs fn on the loop goroutine and waits for it.
func (a *App) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case a.calls <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) watchTransitions(ctx context.Context, st strategy.Status) {
	if st.State != a.lastState {
		if st.State == strategy.StateError {
			a.sendAlert(ctx, fmt.Sprintf("%s entered ERROR after %d consecutive errors, cooling down", st.Pair, st.ConsecutiveErrors))
		} else if a.lastState == strategy.StateError {
			a.sendAlert(ctx, fmt.Sprintf("%s recovered, state %s", st.Pair, st.State))
		}
		a.lastState = st.State
	}
	if st.LastStopLossAt.After(a.lastStopLoss) {
		a.sendAlert(ctx, fmt.Sprintf("%s stop loss triggered at mid %s", st.Pair, st.Mid))
		a.lastStopLoss = st.LastStopLossAt
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.strategy.Stop()
	a.cancelResting(ctx, false)
	a.saveSnapshot(ctx, a.strategy.Status())
	a.sendAlert(ctx, fmt.Sprintf("Market maker stopped on %s", a.cfg.Strategy.Coin))
	a.log.Info("shutdown complete")
}

// cancelResting cancels the coin's open orders. With quotesOnly set,
// reduce-only exits stay on the book.
func (a *App) cancelResting(ctx context.Context, quotesOnly bool) {
	a.account.Invalidate()
	orders, err := a.account.ActiveOrders(ctx, a.cfg.Strategy.Coin)
	if err != nil {
		a.log.Warn("resting order lookup failed", zap.Error(err))
		return
	}
	if quotesOnly {
		quotes := orders[:0]
		for _, o := range orders {
			if !o.ReduceOnly {
				quotes = append(quotes, o)
			}
		}
		orders = quotes
	}
	a.cancelOpenOrders(ctx, orders)
}

func (a *App) cancelOpenOrders(ctx context.Context, orders []strategy.ActiveOrder) {
	coin := a.cfg.Strategy.Coin
	for _, o := range orders {
		if !strings.EqualFold(o.Pair, coin) {
			continue
		}
		err := a.conn.CancelOrder(ctx, coin, o.ID)
		if err != nil && !errors.Is(err, strategy.ErrOrderGone) {
			a.log.Warn("failed to cancel order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		a.log.Info("cancelled resting order", zap.String("order_id", o.ID), zap.String("side", string(o.Side)), zap.String("price", o.Price.String()))
	}
}

func (a *App) pruneClientOrderIDs(ctx context.Context) {
	p, ok := a.store.(pruner)
	if !ok {
		return
	}
	n, err := p.PruneBefore(ctx, exec.CloidKeyPrefix, time.Now().Add(-cloidRetention))
	if err != nil {
		a.log.Warn("cloid prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		a.log.Info("pruned client order ids", zap.Int64("rows", n))
	}
}

func (a *App) serveMetrics(ctx context.Context) error {
	if a.prom == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error("metrics server failed", zap.Error(err))
	}
	return nil
}

func (a *App) sendAlert(ctx context.Context, msg string) {
	if !a.alerts.Enabled() {
		return
	}
	if err := a.alerts.Send(ctx, msg); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}
