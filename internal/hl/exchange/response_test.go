package exchange

import (
	"encoding/json"
	"errors"
	"testing"
)

func decodeResponse(t *testing.T, raw string) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestPlacedOrderIDStatusFilled(t *testing.T) {
	resp := decodeResponse(t, `{"status":"ok","response":{"type":"order","data":{"statuses":[
		{"filled":{"totalSz":"0.02","avgPx":"1891.4","oid":292577153770,"cloid":"0x188a0f9ee162351d6d6af5b09b97b1c7"}}]}}}`)
	got, err := PlacedOrderID(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "292577153770" {
		t.Fatalf("expected order id 292577153770, got %s", got)
	}
}

func TestPlacedOrderIDResting(t *testing.T) {
	resp := decodeResponse(t, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":77738308}}]}}}`)
	got, err := PlacedOrderID(resp)
	if err != nil || got != "77738308" {
		t.Fatalf("expected resting id 77738308, got %s (%v)", got, err)
	}
}

func TestPlacedOrderIDRejected(t *testing.T) {
	resp := decodeResponse(t, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Order must have minimum value of $10."}]}}}`)
	_, err := PlacedOrderID(resp)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestCancelStatuses(t *testing.T) {
	ok := decodeResponse(t, `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`)
	st, err := ok.FirstStatus()
	if err != nil || !st.Success {
		t.Fatalf("expected success status, got %+v (%v)", st, err)
	}
	gone := decodeResponse(t, `{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Order was never placed, already canceled, or filled. asset=4"}]}}}`)
	if _, err := gone.FirstStatus(); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestTopLevelErrorResponse(t *testing.T) {
	resp := decodeResponse(t, `{"status":"err","response":"Insufficient margin"}`)
	if _, err := resp.Statuses(); err == nil || err.Error() != "exchange rejected action: Insufficient margin" {
		t.Fatalf("unexpected error %v", err)
	}
}
