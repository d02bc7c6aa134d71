package ws

import (
	"encoding/json"
	"testing"
)

func TestRouterDispatchesByChannel(t *testing.T) {
	r := NewRouter()
	var mids, books int
	r.Handle("allMids", func(data json.RawMessage) {
		var body struct {
			Mids map[string]string `json:"mids"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("decode mids: %v", err)
		}
		if body.Mids["ETH"] != "2500.5" {
			t.Fatalf("unexpected mids %v", body.Mids)
		}
		mids++
	})
	r.Handle("allMids", func(json.RawMessage) { mids++ })
	r.Handle("l2Book", func(json.RawMessage) { books++ })

	if !r.Dispatch(json.RawMessage(`{"channel":"allMids","data":{"mids":{"ETH":"2500.5"}}}`)) {
		t.Fatalf("expected allMids handled")
	}
	if mids != 2 || books != 0 {
		t.Fatalf("expected both mids handlers only, got mids=%d books=%d", mids, books)
	}
	if r.Dispatch(json.RawMessage(`{"channel":"subscriptionResponse","data":{}}`)) {
		t.Fatalf("expected unknown channel dropped")
	}
	if r.Dispatch(json.RawMessage(`not json`)) {
		t.Fatalf("expected malformed frame dropped")
	}
}
