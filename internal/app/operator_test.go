package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"hl-mm-bot/internal/alerts"
	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/optimizer"
	"hl-mm-bot/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/status now")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != "status" {
		t.Fatalf("expected status, got %s", cmd)
	}
	if len(args) != 1 || args[0] != "now" {
		t.Fatalf("unexpected args: %v", args)
	}
	cmd, _, ok = parseOperatorCommand("/Pause@mm_bot")
	if !ok || cmd != "pause" {
		t.Fatalf("expected pause from addressed command, got %q", cmd)
	}
	if _, _, ok := parseOperatorCommand("hello"); ok {
		t.Fatalf("expected plain text ignored")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	a, ex, store := newTestApp(t)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/pause"}

	resp, err := a.handleOperatorCommand(context.Background(), "pause", nil, meta)
	if err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if resp != "quoting paused, resting quotes cancelled" {
		t.Fatalf("unexpected pause response: %s", resp)
	}
	if !a.strategy.Paused() {
		t.Fatalf("expected paused")
	}
	if ex.cancelCount() != 1 {
		t.Fatalf("expected only the ETH quote cancelled, got %d cancels", ex.cancelCount())
	}

	resp, err = a.handleOperatorCommand(context.Background(), "pause", nil, meta)
	if err != nil {
		t.Fatalf("second pause error: %v", err)
	}
	if resp != "quoting already paused" {
		t.Fatalf("unexpected repeated pause response: %s", resp)
	}
	if ex.cancelCount() != 1 {
		t.Fatalf("expected no cancels on repeated pause")
	}

	meta.Raw = "/resume"
	resp, err = a.handleOperatorCommand(context.Background(), "resume", nil, meta)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if resp != "quoting resumed" {
		t.Fatalf("unexpected resume response: %s", resp)
	}
	if a.strategy.Paused() {
		t.Fatalf("expected resumed")
	}

	keys := store.keysWithPrefix("ops:audit:")
	if len(keys) != 3 {
		t.Fatalf("expected three audit entries, got %d", len(keys))
	}
	var event operatorAuditEvent
	found := false
	for _, key := range keys {
		raw, _, _ := store.Get(context.Background(), key)
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			t.Fatalf("decode audit: %v", err)
		}
		if event.Action == "resume" {
			found = true
			if !event.PausedBefore || event.PausedAfter {
				t.Fatalf("unexpected resume audit %+v", event)
			}
		}
	}
	if !found {
		t.Fatalf("expected resume audit entry")
	}
}

func TestOperatorStatusAndGamma(t *testing.T) {
	a, _, _ := newTestApp(t)
	resp, err := a.handleOperatorCommand(context.Background(), "status", nil, operatorMeta{})
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(resp, "ETH") {
		t.Fatalf("expected pair in status, got %q", resp)
	}
	resp, err = a.handleOperatorCommand(context.Background(), "gamma", nil, operatorMeta{})
	if err != nil {
		t.Fatalf("gamma error: %v", err)
	}
	if resp != "gamma: 1.000000 (fixed)" {
		t.Fatalf("unexpected gamma response %q", resp)
	}
}

func TestOperatorParams(t *testing.T) {
	a, _, store := newTestApp(t)
	resp, err := a.handleOperatorCommand(context.Background(), "params", nil, operatorMeta{})
	if err != nil {
		t.Fatalf("params error: %v", err)
	}
	if resp != "no optimizer result stored" {
		t.Fatalf("unexpected empty params response %q", resp)
	}
	res := optimizer.Result{
		Asset:              "ETH",
		MidPrice:           2500,
		DailyVolatilityPct: 3.2,
		BidSpread:          decimal.RequireFromString("0.12"),
		AskSpread:          decimal.RequireFromString("0.12"),
		LongProfitTaking:   decimal.RequireFromString("0.4"),
		ShortProfitTaking:  decimal.RequireFromString("0.4"),
		StopLoss:           decimal.RequireFromString("2.5"),
		ComputedAtMS:       1_700_000_000_000,
	}
	if err := state.SaveOptimizerResult(context.Background(), store, res); err != nil {
		t.Fatalf("save result: %v", err)
	}
	resp, err = a.handleOperatorCommand(context.Background(), "params", nil, operatorMeta{})
	if err != nil {
		t.Fatalf("params error: %v", err)
	}
	if !strings.Contains(resp, "stop_loss: 2.5%") || !strings.Contains(resp, "bid_spread: 0.12%") {
		t.Fatalf("unexpected params response %q", resp)
	}
}

func TestOperatorOptimizeDisabled(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.handleOperatorCommand(context.Background(), "optimize", nil, operatorMeta{}); err == nil {
		t.Fatalf("expected optimize to fail without a runner")
	}
}

func TestOperatorUnknownCommandShowsHelp(t *testing.T) {
	a, _, _ := newTestApp(t)
	resp, err := a.handleOperatorCommand(context.Background(), "nope", nil, operatorMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != operatorHelpText() {
		t.Fatalf("expected help text, got %q", resp)
	}
}

func TestHandleOperatorUpdateFiltersChatAndUser(t *testing.T) {
	a, _, store := newTestApp(t)
	allowed := map[int64]struct{}{7: {}}
	upd := alerts.Update{UpdateID: 10, Message: &alerts.Message{
		Chat: &alerts.Chat{ID: 99},
		From: &alerts.User{ID: 7},
		Text: "/pause",
	}}
	a.handleOperatorUpdate(context.Background(), upd, 1, allowed)
	upd.Message.Chat.ID = 1
	upd.Message.From.ID = 8
	a.handleOperatorUpdate(context.Background(), upd, 1, allowed)
	if a.strategy.Paused() {
		t.Fatalf("expected foreign chat and user ignored")
	}
	if len(store.keysWithPrefix("ops:audit:")) != 0 {
		t.Fatalf("expected no audit entries")
	}
}

func TestOperatorOffsetRoundTrip(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	a := &App{store: store}
	if got := a.loadOperatorOffset(context.Background()); got != 0 {
		t.Fatalf("expected zero offset, got %d", got)
	}
	a.saveOperatorOffset(context.Background(), 42)
	if got := a.loadOperatorOffset(context.Background()); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	store.data[operatorOffsetKey] = "-5"
	if got := a.loadOperatorOffset(context.Background()); got != 0 {
		t.Fatalf("expected negative offset reset, got %d", got)
	}
}

func TestOperatorSettings(t *testing.T) {
	log := zap.NewNop()
	cfg := &config.Config{Telegram: config.TelegramConfig{
		Enabled:                true,
		Token:                  "token",
		ChatID:                 "-100123",
		OperatorEnabled:        true,
		OperatorAllowedUserIDs: []int64{5},
	}}
	a := &App{cfg: cfg, log: log, alerts: alerts.NewTelegram(cfg.Telegram, log)}
	chatID, allowed, poll, ok := a.operatorSettings()
	if !ok {
		t.Fatalf("expected operator enabled")
	}
	if chatID != -100123 || poll != 5*time.Second {
		t.Fatalf("unexpected settings chat=%d poll=%s", chatID, poll)
	}
	if _, ok := allowed[5]; !ok || len(allowed) != 1 {
		t.Fatalf("unexpected allowed users %v", allowed)
	}

	cfg.Telegram.ChatID = "not-a-number"
	if _, _, _, ok := a.operatorSettings(); ok {
		t.Fatalf("expected invalid chat id to disable operator")
	}
}
