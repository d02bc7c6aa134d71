package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"hl-mm-bot/internal/hl/rest"
	"hl-mm-bot/internal/hl/ws"
	"hl-mm-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	priceSigFigs      = 5
	maxPerpPxDecimals = 6
	maxWireDecimals   = 8
)

var ErrUnknownAsset = errors.New("unknown asset")

// AssetInfo is the per-coin trading metadata from the perp universe.
type AssetInfo struct {
	Name        string
	Index       int
	SzDecimals  int
	MaxLeverage int
}

type bookEntry struct {
	book strategy.OrderBook
	at   time.Time
}

type midEntry struct {
	px decimal.Decimal
	at time.Time
}

// MarketData caches mids and books pushed over the websocket and falls back
// to REST when a value is missing or older than staleAfter.
type MarketData struct {
	rest *rest.Client
	log  *zap.Logger

	mu         sync.RWMutex
	mids       map[string]midEntry
	books      map[string]bookEntry
	assets     map[string]AssetInfo
	staleAfter time.Duration
	now        func() time.Time
}

func New(restClient *rest.Client, log *zap.Logger) *MarketData {
	if log == nil {
		log = zap.NewNop()
	}
	return &MarketData{
		rest:       restClient,
		log:        log,
		mids:       make(map[string]midEntry),
		books:      make(map[string]bookEntry),
		assets:     make(map[string]AssetInfo),
		staleAfter: 5 * time.Second,
		now:        time.Now,
	}
}

// Subscribe registers the market channels on router and asks the socket for
// all mids plus the book of every coin.
func (m *MarketData) Subscribe(ctx context.Context, client *ws.Client, router *ws.Router, coins ...string) error {
	router.Handle("allMids", m.handleMids)
	router.Handle("l2Book", m.handleBook)
	if client == nil {
		return nil
	}
	if err := client.Subscribe(ctx, ws.Subscription(map[string]any{"type": "allMids"})); err != nil {
		return err
	}
	for _, coin := range coins {
		sub := ws.Subscription(map[string]any{"type": "l2Book", "coin": normalizeCoin(coin)})
		if err := client.Subscribe(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (m *MarketData) RefreshMeta(ctx context.Context) error {
	if m.rest == nil {
		return errors.New("rest client is required")
	}
	meta, err := m.rest.Meta(ctx)
	if err != nil {
		return err
	}
	if len(meta.Universe) == 0 {
		return errors.New("meta universe is empty")
	}
	assets := make(map[string]AssetInfo, len(meta.Universe))
	for i, a := range meta.Universe {
		if a.Name == "" {
			continue
		}
		assets[normalizeCoin(a.Name)] = AssetInfo{
			Name:        a.Name,
			Index:       i,
			SzDecimals:  a.SzDecimals,
			MaxLeverage: a.MaxLeverage,
		}
	}
	m.mu.Lock()
	m.assets = assets
	m.mu.Unlock()
	m.log.Info("asset metadata refreshed", zap.Int("assets", len(assets)))
	return nil
}

func (m *MarketData) Asset(coin string) (AssetInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.assets[normalizeCoin(coin)]
	return info, ok
}

func (m *MarketData) Mid(ctx context.Context, coin string) (decimal.Decimal, error) {
	coin = normalizeCoin(coin)
	if px, ok := m.cachedMid(coin); ok {
		return px, nil
	}
	if m.rest == nil {
		return decimal.Zero, fmt.Errorf("mid price for %s not available", coin)
	}
	mids, err := m.rest.AllMids(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	m.storeMids(mids)
	m.mu.RLock()
	entry, ok := m.mids[coin]
	m.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("mid price for %s not found", coin)
	}
	return entry.px, nil
}

func (m *MarketData) cachedMid(coin string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.mids[coin]
	if !ok || m.now().Sub(entry.at) > m.staleAfter {
		return decimal.Zero, false
	}
	return entry.px, true
}

func (m *MarketData) Book(ctx context.Context, coin string) (strategy.OrderBook, error) {
	coin = normalizeCoin(coin)
	m.mu.RLock()
	entry, ok := m.books[coin]
	m.mu.RUnlock()
	if ok && m.now().Sub(entry.at) <= m.staleAfter {
		return entry.book, nil
	}
	if m.rest == nil {
		return strategy.OrderBook{}, fmt.Errorf("order book for %s not available", coin)
	}
	raw, err := m.rest.L2Book(ctx, coin)
	if err != nil {
		return strategy.OrderBook{}, err
	}
	book := convertBook(raw)
	m.mu.Lock()
	m.books[coin] = bookEntry{book: book, at: m.now()}
	m.mu.Unlock()
	return book, nil
}

// QuantizePrice snaps price to the exchange tick: at most five significant
// figures and 6-szDecimals decimals. Bids round down and asks round up so
// quantization never tightens a quote.
func (m *MarketData) QuantizePrice(coin string, price decimal.Decimal, side strategy.Side) decimal.Decimal {
	szDecimals := 0
	if info, ok := m.Asset(coin); ok {
		szDecimals = info.SzDecimals
	}
	return QuantizePrice(price, szDecimals, side)
}

func (m *MarketData) QuantizeAmount(coin string, amount decimal.Decimal) decimal.Decimal {
	if info, ok := m.Asset(coin); ok {
		return QuantizeAmount(amount, info.SzDecimals)
	}
	return QuantizeAmount(amount, maxWireDecimals)
}

func QuantizePrice(price decimal.Decimal, szDecimals int, side strategy.Side) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	decimals := maxPerpPxDecimals - szDecimals
	if sig := sigFigDecimals(price, priceSigFigs); sig < decimals {
		decimals = sig
	}
	if decimals < 0 {
		// Integer prices are always accepted.
		decimals = 0
	}
	if side == strategy.SideSell {
		return price.RoundCeil(int32(decimals))
	}
	return price.RoundFloor(int32(decimals))
}

func QuantizeAmount(amount decimal.Decimal, szDecimals int) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	if szDecimals < 0 {
		szDecimals = 0
	}
	return amount.Truncate(int32(szDecimals))
}

// sigFigDecimals returns how many decimals keep price within sig significant figures.
func sigFigDecimals(price decimal.Decimal, sig int) int {
	e := int32(math.Floor(math.Log10(price.InexactFloat64())))
	if price.GreaterThanOrEqual(decimal.New(1, e+1)) {
		e++
	} else if price.LessThan(decimal.New(1, e)) {
		e--
	}
	return sig - 1 - int(e)
}

// Candles serves the optimizer with closed candles in open-time order.
func (m *MarketData) Candles(ctx context.Context, coin, interval string, start, end time.Time) ([]Candle, error) {
	if m.rest == nil {
		return nil, errors.New("rest client is required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("candle window %v..%v is empty", start, end)
	}
	raw, err := m.rest.CandleSnapshot(ctx, normalizeCoin(coin), interval, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(raw))
	for _, c := range raw {
		out = append(out, Candle{
			Asset:    c.Coin,
			Interval: c.Interval,
			Start:    time.UnixMilli(c.OpenTime).UTC(),
			Open:     c.Open.InexactFloat64(),
			High:     c.High.InexactFloat64(),
			Low:      c.Low.InexactFloat64(),
			Close:    c.Close.InexactFloat64(),
			Volume:   c.Volume.InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

type midsPush struct {
	Mids map[string]string `json:"mids"`
}

func (m *MarketData) handleMids(data json.RawMessage) {
	var push midsPush
	if err := json.Unmarshal(data, &push); err != nil {
		m.log.Debug("allMids decode error", zap.Error(err))
		return
	}
	m.storeMids(push.Mids)
}

func (m *MarketData) storeMids(mids map[string]string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for coin, raw := range mids {
		px, err := decimal.NewFromString(raw)
		if err != nil || !px.IsPositive() {
			continue
		}
		m.mids[normalizeCoin(coin)] = midEntry{px: px, at: now}
	}
}

func (m *MarketData) handleBook(data json.RawMessage) {
	var raw rest.L2Book
	if err := json.Unmarshal(data, &raw); err != nil {
		m.log.Debug("l2Book decode error", zap.Error(err))
		return
	}
	if raw.Coin == "" {
		return
	}
	book := convertBook(raw)
	m.mu.Lock()
	m.books[normalizeCoin(raw.Coin)] = bookEntry{book: book, at: m.now()}
	m.mu.Unlock()
}

func convertBook(raw rest.L2Book) strategy.OrderBook {
	return strategy.OrderBook{
		Bids: convertLevels(raw.Levels[0]),
		Asks: convertLevels(raw.Levels[1]),
	}
}

func convertLevels(levels []rest.BookLevel) []strategy.BookLevel {
	out := make([]strategy.BookLevel, 0, len(levels))
	for _, l := range levels {
		if !l.Px.IsPositive() || !l.Sz.IsPositive() {
			continue
		}
		out = append(out, strategy.BookLevel{Price: l.Px, Size: l.Sz})
	}
	return out
}

func normalizeCoin(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin))
}
