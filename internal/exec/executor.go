package exec

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CloidKeyPrefix namespaces client order id mappings in the store.
const CloidKeyPrefix = "cloid:"

type Order struct {
	Asset         int
	IsBuy         bool
	Size          decimal.Decimal
	LimitPrice    decimal.Decimal
	ReduceOnly    bool
	Tif           string
	ClientOrderID string
}

type Cancel struct {
	Asset   int
	OrderID string
}

type RestClient interface {
	PlaceOrder(ctx context.Context, order Order) (string, error)
	CancelOrder(ctx context.Context, cancel Cancel) error
}

type Executor struct {
	rest    RestClient
	store   state.Store
	log     *zap.Logger
	limiter *rate.Limiter

	maxAttempts    int
	initialBackoff time.Duration

	mu    sync.Mutex
	cache map[string]string
}

func New(rest RestClient, store state.Store, cfg config.ExecConfig, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.OrdersPerSecond > 0 {
		limit = rate.Limit(cfg.OrdersPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Executor{
		rest:           rest,
		store:          store,
		log:            log,
		limiter:        rate.NewLimiter(limit, burst),
		maxAttempts:    attempts,
		initialBackoff: cfg.InitialBackoff,
		cache:          make(map[string]string),
	}
}

// NewClientOrderID returns a random 128-bit client order id in 0x-prefixed hex.
func NewClientOrderID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

// PlaceOrder submits order once per client order id. A repeated id returns the
// exchange id recorded for the first successful placement, including one
// recorded by a previous process.
func (e *Executor) PlaceOrder(ctx context.Context, order Order) (string, error) {
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, order)
	}
	cacheKey := CloidKeyPrefix + order.ClientOrderID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return oid, nil
		}
	}
	orderID, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.String("cloid", order.ClientOrderID), zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, nil
}

func (e *Executor) CancelOrder(ctx context.Context, cancel Cancel) error {
	if cancel.OrderID == "" {
		return errors.New("cancel order id is required")
	}
	return e.retry(ctx, "cancel", func() error {
		return e.rest.CancelOrder(ctx, cancel)
	})
}

func (e *Executor) placeWithRetry(ctx context.Context, order Order) (string, error) {
	var orderID string
	err := e.retry(ctx, "place", func() error {
		var err error
		orderID, err = e.rest.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", errors.New("empty order id")
	}
	return orderID, nil
}

func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	backoff := e.initialBackoff
	for attempt := 1; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= e.maxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}
		e.log.Debug("retrying exchange call", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; the executor returns the wrapped
// error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
