package exec

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hl-mm-bot/internal/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type mockRest struct {
	mu        sync.Mutex
	calls     int
	cancels   int
	orderID   string
	failFirst int
	err       error
}

func (m *mockRest) PlaceOrder(ctx context.Context, order Order) (string, error) {
	_ = ctx
	_ = order
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failFirst {
		return "", errors.New("temporary")
	}
	if m.err != nil {
		return "", m.err
	}
	return m.orderID, nil
}

func (m *mockRest) CancelOrder(ctx context.Context, cancel Cancel) error {
	_ = ctx
	_ = cancel
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	return m.err
}

func testExecConfig() config.ExecConfig {
	return config.ExecConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}
}

func TestExecutorIdempotentPlacement(t *testing.T) {
	store := newMemoryStore()
	rest := &mockRest{orderID: "oid-1"}
	logger := zap.NewNop()
	executor := New(rest, store, testExecConfig(), logger)

	ctx := context.Background()
	order := Order{Asset: 1, IsBuy: true, Size: decimal.NewFromInt(1), ClientOrderID: "abc"}

	id1, err := executor.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := executor.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same order id, got %s and %s", id1, id2)
	}
	if rest.calls != 1 {
		t.Fatalf("expected 1 rest call, got %d", rest.calls)
	}

	rest2 := &mockRest{orderID: "oid-2"}
	executor2 := New(rest2, store, testExecConfig(), logger)
	id3, err := executor2.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id3 != id1 {
		t.Fatalf("expected stored order id %s, got %s", id1, id3)
	}
	if rest2.calls != 0 {
		t.Fatalf("expected no rest calls on restart, got %d", rest2.calls)
	}
}

func TestExecutorRetriesTransientErrors(t *testing.T) {
	rest := &mockRest{orderID: "oid-9", failFirst: 2}
	executor := New(rest, nil, testExecConfig(), zap.NewNop())
	id, err := executor.PlaceOrder(context.Background(), Order{Asset: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "oid-9" || rest.calls != 3 {
		t.Fatalf("expected success on third attempt, got id=%s calls=%d", id, rest.calls)
	}
}

func TestExecutorGivesUpAfterMaxAttempts(t *testing.T) {
	rest := &mockRest{failFirst: 10}
	executor := New(rest, nil, testExecConfig(), zap.NewNop())
	_, err := executor.PlaceOrder(context.Background(), Order{Asset: 1})
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("expected retry exhaustion error, got %v", err)
	}
	if rest.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", rest.calls)
	}
}

func TestExecutorPermanentErrorStopsRetry(t *testing.T) {
	rejected := errors.New("insufficient margin")
	rest := &mockRest{err: Permanent(rejected)}
	executor := New(rest, nil, testExecConfig(), zap.NewNop())
	_, err := executor.PlaceOrder(context.Background(), Order{Asset: 1})
	if !errors.Is(err, rejected) {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if rest.calls != 1 {
		t.Fatalf("expected single attempt, got %d", rest.calls)
	}
	if err := executor.CancelOrder(context.Background(), Cancel{Asset: 1, OrderID: "1"}); !errors.Is(err, rejected) {
		t.Fatalf("expected cancel rejection, got %v", err)
	}
	if rest.cancels != 1 {
		t.Fatalf("expected single cancel attempt, got %d", rest.cancels)
	}
}

func TestExecutorCancelRequiresOrderID(t *testing.T) {
	executor := New(&mockRest{}, nil, testExecConfig(), zap.NewNop())
	if err := executor.CancelOrder(context.Background(), Cancel{Asset: 1}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}

func TestExecutorRateLimitHonoursContext(t *testing.T) {
	cfg := testExecConfig()
	cfg.OrdersPerSecond = 0.001
	cfg.Burst = 1
	rest := &mockRest{orderID: "oid"}
	executor := New(rest, nil, cfg, zap.NewNop())
	if _, err := executor.PlaceOrder(context.Background(), Order{Asset: 1}); err != nil {
		t.Fatalf("first order should use the burst token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := executor.PlaceOrder(ctx, Order{Asset: 1}); err == nil {
		t.Fatalf("expected rate limiter to reject within deadline")
	}
	if rest.calls != 1 {
		t.Fatalf("expected limiter to block the second call, got %d calls", rest.calls)
	}
}

func TestNewClientOrderID(t *testing.T) {
	a, b := NewClientOrderID(), NewClientOrderID()
	if a == b {
		t.Fatalf("expected distinct ids")
	}
	if !strings.HasPrefix(a, "0x") || len(a) != 34 {
		t.Fatalf("expected 0x-prefixed 128-bit hex, got %q", a)
	}
	id, err := uuid.Parse(strings.TrimPrefix(a, "0x"))
	if err != nil {
		t.Fatalf("expected a uuid in hex form: %v", err)
	}
	if id.Version() != 4 {
		t.Fatalf("expected random uuid, got version %d", id.Version())
	}
}
