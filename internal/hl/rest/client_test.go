package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hl-mm-bot/internal/config"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T, handler func(req map[string]any) (int, string)) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/info" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := handler(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	client := New(config.RESTConfig{BaseURL: srv.URL + "/", Timeout: time.Second, BreakerFailures: 2, BreakerTimeout: time.Minute}, zap.NewNop())
	return client, &calls
}

func TestAllMidsAndBook(t *testing.T) {
	client, _ := newTestServer(t, func(req map[string]any) (int, string) {
		switch req["type"] {
		case "allMids":
			return http.StatusOK, `{"ETH":"2500.5","BTC":"65000"}`
		case "l2Book":
			if req["coin"] != "ETH" {
				return http.StatusBadRequest, `{}`
			}
			return http.StatusOK, `{"coin":"ETH","time":1700000000000,"levels":[
				[{"px":"2500.4","sz":"1.5","n":3},{"px":"2500.3","sz":"2","n":1}],
				[{"px":"2500.6","sz":"0.7","n":2}]]}`
		}
		return http.StatusBadRequest, `{}`
	})
	ctx := context.Background()
	mids, err := client.AllMids(ctx)
	if err != nil {
		t.Fatalf("all mids: %v", err)
	}
	if mids["ETH"] != "2500.5" {
		t.Fatalf("unexpected mids %v", mids)
	}
	book, err := client.L2Book(ctx, "ETH")
	if err != nil {
		t.Fatalf("l2 book: %v", err)
	}
	if len(book.Levels[0]) != 2 || len(book.Levels[1]) != 1 {
		t.Fatalf("unexpected levels %+v", book.Levels)
	}
	if book.Levels[0][0].Px.String() != "2500.4" || book.Levels[1][0].Sz.String() != "0.7" {
		t.Fatalf("unexpected best levels %+v", book.Levels)
	}
}

func TestClearinghouseStateDecodes(t *testing.T) {
	client, _ := newTestServer(t, func(req map[string]any) (int, string) {
		if req["type"] != "clearinghouseState" || req["user"] != "0xabc" {
			return http.StatusBadRequest, `{}`
		}
		return http.StatusOK, `{"marginSummary":{"accountValue":"1000.5","totalNtlPos":"250","totalMarginUsed":"50"},
			"withdrawable":"900.25",
			"assetPositions":[{"type":"oneWay","position":{"coin":"ETH","szi":"-0.1","entryPx":"2500","leverage":{"type":"cross","value":5},"positionValue":"250","unrealizedPnl":"-1.5"}}]}`
	})
	st, err := client.ClearinghouseState(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("clearinghouse: %v", err)
	}
	if st.Withdrawable.String() != "900.25" || len(st.AssetPositions) != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
	pos := st.AssetPositions[0].Position
	if pos.Szi.String() != "-0.1" || pos.EntryPx == nil || pos.EntryPx.String() != "2500" || pos.Leverage.Value != 5 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if _, err := client.ClearinghouseState(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty user")
	}
}

func TestCandleSnapshotRequest(t *testing.T) {
	var got map[string]any
	client, _ := newTestServer(t, func(req map[string]any) (int, string) {
		got = req
		return http.StatusOK, `[{"t":1700000000000,"T":1700000059999,"s":"ETH","i":"1m","o":"1","c":"2","h":"3","l":"0.5","v":"10","n":4}]`
	})
	start := time.UnixMilli(1700000000000)
	candles, err := client.CandleSnapshot(context.Background(), "ETH", "1m", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 1 || candles[0].Close.String() != "2" {
		t.Fatalf("unexpected candles %+v", candles)
	}
	inner, ok := got["req"].(map[string]any)
	if !ok || inner["coin"] != "ETH" || inner["startTime"] != float64(1700000000000) {
		t.Fatalf("unexpected request %v", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client, calls := newTestServer(t, func(req map[string]any) (int, string) {
		return http.StatusInternalServerError, `{"error":"boom"}`
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.Meta(ctx); err == nil || errors.Is(err, ErrUnavailable) {
			t.Fatalf("attempt %d: expected http error, got %v", i, err)
		}
	}
	if _, err := client.Meta(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected breaker open error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected breaker to short-circuit the third call, got %d calls", calls.Load())
	}
}
