package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestClientSendsPing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	msgCh := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			select {
			case msgCh <- msg:
			default:
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 20*time.Millisecond, zap.NewNop())
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, nil)
	}()

	select {
	case msg := <-msgCh:
		if msg["method"] != "ping" {
			t.Fatalf("expected ping message, got %v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for ping")
	}
}

func TestClientReplaysSubscriptionsAndRoutes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subCh := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg map[string]any
		_ = json.Unmarshal(data, &msg)
		subCh <- msg
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"channel":"allMids","data":{"mids":{"ETH":"2500"}}}`))
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, time.Minute, zap.NewNop())
	if err := client.Subscribe(ctx, Subscription(map[string]any{"type": "allMids"})); err != nil {
		t.Fatalf("subscribe before connect: %v", err)
	}
	router := NewRouter()
	got := make(chan string, 1)
	router.Handle("allMids", func(data json.RawMessage) {
		got <- string(data)
	})

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, func(raw json.RawMessage) { router.Dispatch(raw) })
	}()

	select {
	case msg := <-subCh:
		if msg["method"] != "subscribe" {
			t.Fatalf("expected subscribe frame, got %v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscription")
	}
	select {
	case data := <-got:
		if !strings.Contains(data, `"ETH":"2500"`) {
			t.Fatalf("unexpected routed data %s", data)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for routed message")
	}
}

func TestRouterIgnoresUnknownChannels(t *testing.T) {
	router := NewRouter()
	if router.Dispatch(json.RawMessage(`{"channel":"pong"}`)) {
		t.Fatalf("expected unknown channel to be dropped")
	}
	if router.Dispatch(json.RawMessage(`not json`)) {
		t.Fatalf("expected invalid frame to be dropped")
	}
}
