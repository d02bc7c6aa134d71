package timescale

import (
	"context"
	"testing"
	"time"

	"hl-mm-bot/internal/config"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNilWriter(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, zap.NewNop())
	if err != nil || w != nil {
		t.Fatalf("expected nil writer, got %v err=%v", w, err)
	}
	// nil writers accept every call.
	w.Start(context.Background())
	w.EnqueueQuote(QuoteSnapshot{})
	w.EnqueueFill(Fill{})
	w.EnqueueOptimizerRun(OptimizerRun{})
	if err := w.Close(); err != nil {
		t.Fatalf("close nil writer: %v", err)
	}
	if w.Dropped() != 0 {
		t.Fatalf("expected no drops on nil writer")
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true, DSN: "  "}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, config.TimescaleConfig{Schema: "mm", QueueSize: 2}, nil)
	for i := 0; i < 5; i++ {
		w.EnqueueQuote(QuoteSnapshot{Time: time.Unix(int64(i), 0), Pair: "ETH"})
	}
	w.EnqueueFill(Fill{Pair: "ETH"})
	if got := len(w.quotes); got != 2 {
		t.Fatalf("expected 2 queued quotes, got %d", got)
	}
	if got := w.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped rows, got %d", got)
	}
	if got := w.table("fills"); got != "mm.fills" {
		t.Fatalf("expected schema-qualified table, got %q", got)
	}
}

func TestRunDrainsQueuesWithoutDB(t *testing.T) {
	w := newWriter(nil, config.TimescaleConfig{QueueSize: 4}, nil)
	w.EnqueueQuote(QuoteSnapshot{Pair: "ETH"})
	w.EnqueueFill(Fill{Pair: "ETH"})
	w.EnqueueOptimizerRun(OptimizerRun{Pair: "ETH"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.Start(ctx)
	deadline := time.Now().Add(time.Second)
	for len(w.quotes)+len(w.fills)+len(w.runs) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queues not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w.table("quote_snapshots") != "public.quote_snapshots" {
		t.Fatalf("expected default public schema")
	}
}
