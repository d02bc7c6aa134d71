package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-mm-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// QuoteSnapshot is one tick of strategy state.
type QuoteSnapshot struct {
	Time             time.Time
	Pair             string
	State            string
	Mid              float64
	ReservationPrice float64
	OptimalSpread    float64
	Bid              float64
	Ask              float64
	Gamma            float64
	Volatility       float64
	Alpha            float64
	Kappa            float64
	InventoryDev     float64
	Position         float64
	ActiveOrders     int
}

type Fill struct {
	Time      time.Time
	Pair      string
	OrderID   string
	Side      string
	Price     float64
	Size      float64
	Fee       float64
	ClosedPnl float64
	Hash      string
}

type OptimizerRun struct {
	Time               time.Time
	Pair               string
	DailyVolatilityPct float64
	BidSpread          float64
	AskSpread          float64
	LongProfitTaking   float64
	ShortProfitTaking  float64
	StopLoss           float64
	Applied            bool
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	quotes    chan QuoteSnapshot
	fills     chan Fill
	runs      chan OptimizerRun
	started   atomic.Bool
	dropQuote atomic.Uint64
	dropFill  atomic.Uint64
	dropRun   atomic.Uint64
}

// New returns a nil writer when disabled; every method is a no-op on nil.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, cfg config.TimescaleConfig, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		quotes: make(chan QuoteSnapshot, queueSize),
		fills:  make(chan Fill, queueSize),
		runs:   make(chan OptimizerRun, 16),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueQuote(snap QuoteSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.quotes <- snap:
	default:
		if w.dropQuote.Add(1) == 1 {
			w.log.Warn("timescale quote queue full")
		}
	}
}

func (w *Writer) EnqueueFill(fill Fill) {
	if w == nil {
		return
	}
	select {
	case w.fills <- fill:
	default:
		if w.dropFill.Add(1) == 1 {
			w.log.Warn("timescale fill queue full")
		}
	}
}

func (w *Writer) EnqueueOptimizerRun(run OptimizerRun) {
	if w == nil {
		return
	}
	select {
	case w.runs <- run:
	default:
		if w.dropRun.Add(1) == 1 {
			w.log.Warn("timescale optimizer queue full")
		}
	}
}

// Dropped reports rows discarded because a queue was full.
func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropQuote.Load() + w.dropFill.Load() + w.dropRun.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.quotes:
			w.writeQuote(ctx, snap)
		case fill := <-w.fills:
			w.writeFill(ctx, fill)
		case run := <-w.runs:
			w.writeOptimizerRun(ctx, run)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		state TEXT NOT NULL,
		mid DOUBLE PRECISION NOT NULL,
		reservation_price DOUBLE PRECISION NOT NULL,
		optimal_spread DOUBLE PRECISION NOT NULL,
		bid DOUBLE PRECISION NOT NULL,
		ask DOUBLE PRECISION NOT NULL,
		gamma DOUBLE PRECISION NOT NULL,
		volatility DOUBLE PRECISION NOT NULL,
		alpha DOUBLE PRECISION NOT NULL,
		kappa DOUBLE PRECISION NOT NULL,
		inventory_dev DOUBLE PRECISION NOT NULL,
		position DOUBLE PRECISION NOT NULL,
		active_orders INTEGER NOT NULL
	)`, w.table("quote_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		order_id TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		fee DOUBLE PRECISION NOT NULL DEFAULT 0,
		closed_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		hash TEXT NOT NULL DEFAULT ''
	)`, w.table("fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		daily_volatility_pct DOUBLE PRECISION NOT NULL,
		bid_spread DOUBLE PRECISION NOT NULL,
		ask_spread DOUBLE PRECISION NOT NULL,
		long_profit_taking DOUBLE PRECISION NOT NULL,
		short_profit_taking DOUBLE PRECISION NOT NULL,
		stop_loss DOUBLE PRECISION NOT NULL,
		applied BOOLEAN NOT NULL
	)`, w.table("optimizer_runs"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"quote_snapshots", "fills"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeQuote(ctx context.Context, snap QuoteSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, state, mid, reservation_price, optimal_spread, bid, ask,
		gamma, volatility, alpha, kappa, inventory_dev, position, active_orders
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	)`, w.table("quote_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Pair,
		snap.State,
		snap.Mid,
		snap.ReservationPrice,
		snap.OptimalSpread,
		snap.Bid,
		snap.Ask,
		snap.Gamma,
		snap.Volatility,
		snap.Alpha,
		snap.Kappa,
		snap.InventoryDev,
		snap.Position,
		snap.ActiveOrders,
	); err != nil {
		w.log.Warn("timescale quote insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, fill Fill) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, order_id, side, price, size, fee, closed_pnl, hash
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("fills"))
	if _, err := w.db.ExecContext(ctx, query,
		fill.Time,
		fill.Pair,
		fill.OrderID,
		fill.Side,
		fill.Price,
		fill.Size,
		fill.Fee,
		fill.ClosedPnl,
		fill.Hash,
	); err != nil {
		w.log.Warn("timescale fill insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOptimizerRun(ctx context.Context, run OptimizerRun) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, daily_volatility_pct, bid_spread, ask_spread,
		long_profit_taking, short_profit_taking, stop_loss, applied
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("optimizer_runs"))
	if _, err := w.db.ExecContext(ctx, query,
		run.Time,
		run.Pair,
		run.DailyVolatilityPct,
		run.BidSpread,
		run.AskSpread,
		run.LongProfitTaking,
		run.ShortProfitTaking,
		run.StopLoss,
		run.Applied,
	); err != nil {
		w.log.Warn("timescale optimizer insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
