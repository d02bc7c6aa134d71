package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hl-mm-bot/internal/config"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable wraps requests rejected while the circuit breaker is open.
var ErrUnavailable = errors.New("info endpoint unavailable")

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

func New(cfg config.RESTConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hl-info",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("rest circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}

func (c *Client) Info(ctx context.Context, req any) (map[string]any, error) {
	var data map[string]any
	err := c.infoInto(ctx, req, &data)
	return data, err
}

func (c *Client) InfoAny(ctx context.Context, req any) (any, error) {
	var data any
	err := c.infoInto(ctx, req, &data)
	return data, err
}

// infoInto posts req to /info through the breaker and decodes into out.
func (c *Client) infoInto(ctx context.Context, req any, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, "/info", req, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, req any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) AllMids(ctx context.Context) (map[string]string, error) {
	var mids map[string]string
	if err := c.infoInto(ctx, InfoRequest{Type: "allMids"}, &mids); err != nil {
		return nil, err
	}
	return mids, nil
}

func (c *Client) L2Book(ctx context.Context, coin string) (L2Book, error) {
	var book L2Book
	err := c.infoInto(ctx, InfoRequest{Type: "l2Book", Coin: coin}, &book)
	return book, err
}

func (c *Client) Meta(ctx context.Context) (Meta, error) {
	var meta Meta
	err := c.infoInto(ctx, InfoRequest{Type: "meta"}, &meta)
	return meta, err
}

func (c *Client) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	if user == "" {
		return ClearinghouseState{}, errors.New("user is required")
	}
	var st ClearinghouseState
	err := c.infoInto(ctx, InfoRequest{Type: "clearinghouseState", User: user}, &st)
	return st, err
}

func (c *Client) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	if user == "" {
		return nil, errors.New("user is required")
	}
	var orders []OpenOrder
	err := c.infoInto(ctx, InfoRequest{Type: "frontendOpenOrders", User: user}, &orders)
	return orders, err
}

type candleSnapshotRequest struct {
	Type string            `json:"type"`
	Req  candleSnapshotReq `json:"req"`
}

type candleSnapshotReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

func (c *Client) CandleSnapshot(ctx context.Context, coin, interval string, start, end time.Time) ([]Candle, error) {
	req := candleSnapshotRequest{
		Type: "candleSnapshot",
		Req: candleSnapshotReq{
			Coin:      coin,
			Interval:  interval,
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	}
	var candles []Candle
	err := c.infoInto(ctx, req, &candles)
	return candles, err
}
