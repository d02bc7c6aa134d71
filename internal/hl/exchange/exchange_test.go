package exchange

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDecimalToWire(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{in: "1.23", out: "1.23"},
		{in: "0", out: "0"},
		{in: "0.000", out: "0"},
		{in: "1.23000000", out: "1.23"},
		{in: "100.0", out: "100"},
		{in: "0.00000001", out: "0.00000001"},
	}
	for _, tc := range cases {
		got, err := decimalToWire(decimal.RequireFromString(tc.in))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.in, err)
		}
		if got != tc.out {
			t.Fatalf("expected %s, got %s", tc.out, got)
		}
	}
	if _, err := decimalToWire(decimal.RequireFromString("1.234567891")); err == nil {
		t.Fatalf("expected rounding error")
	}
	if _, err := decimalToWire(decimal.RequireFromString("-1")); err == nil {
		t.Fatalf("expected negative value error")
	}
}

func TestLimitOrderWireRejectsZeroSize(t *testing.T) {
	if _, err := LimitOrderWire(1, true, decimal.Zero, decimal.NewFromInt(100), false, TifGtc, ""); err == nil {
		t.Fatalf("expected zero size error")
	}
	if _, err := LimitOrderWire(1, true, decimal.NewFromInt(1), decimal.NewFromInt(100), false, "", ""); err == nil {
		t.Fatalf("expected missing tif error")
	}
}

func testOrder(t *testing.T, cloid string) OrderWire {
	t.Helper()
	order, err := LimitOrderWire(1, true, decimal.RequireFromString("2.5"), decimal.RequireFromString("100.0"), false, TifAlo, cloid)
	if err != nil {
		t.Fatalf("unexpected order wire error: %v", err)
	}
	return order
}

func TestEncodeOrderActionDeterministic(t *testing.T) {
	action := OrderAction{Type: "order", Orders: []OrderWire{testOrder(t, "0x188a0f9ee162351d6d6af5b09b97b1c7")}, Grouping: "na"}
	b1, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b2, err := EncodeAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected deterministic encoding")
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b1, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded["type"] != "order" {
		t.Fatalf("unexpected action type")
	}
	orders, ok := decoded["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("expected 1 order")
	}
	orderMap, ok := orders[0].(map[string]any)
	if !ok {
		t.Fatalf("expected order map")
	}
	if orderMap["p"] != "100" {
		t.Fatalf("expected price 100, got %v", orderMap["p"])
	}
	if orderMap["s"] != "2.5" {
		t.Fatalf("expected size 2.5, got %v", orderMap["s"])
	}
	if orderMap["c"] != "0x188a0f9ee162351d6d6af5b09b97b1c7" {
		t.Fatalf("expected cloid, got %v", orderMap["c"])
	}
}

func TestEncodeUpdateLeverageKeyOrder(t *testing.T) {
	b, err := EncodeAction(UpdateLeverageAction{Type: "updateLeverage", Asset: 3, IsCross: true, Leverage: 10})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeMapLen()
	if err != nil || n != 4 {
		t.Fatalf("expected 4 keys, got %d (%v)", n, err)
	}
	want := []string{"type", "asset", "isCross", "leverage"}
	for _, key := range want {
		got, err := dec.DecodeString()
		if err != nil {
			t.Fatalf("decode key: %v", err)
		}
		if got != key {
			t.Fatalf("expected key %s, got %s", key, got)
		}
		if _, err := dec.DecodeInterface(); err != nil {
			t.Fatalf("decode value: %v", err)
		}
	}
	if _, err := EncodeAction(UpdateLeverageAction{Type: "updateLeverage", Asset: 3}); err == nil {
		t.Fatalf("expected error for zero leverage")
	}
}

func TestEncodeCancelActions(t *testing.T) {
	b, err := EncodeAction(CancelByCloidAction{Type: "cancelByCloid", Cancels: []CancelByCloidWire{{Asset: 2, Cloid: "0x01"}}})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	cancels, ok := decoded["cancels"].([]any)
	if !ok || len(cancels) != 1 {
		t.Fatalf("expected 1 cancel, got %v", decoded["cancels"])
	}
	if c := cancels[0].(map[string]any); c["cloid"] != "0x01" {
		t.Fatalf("unexpected cancel %v", c)
	}
	if _, err := EncodeAction(CancelAction{Type: "cancel"}); err == nil {
		t.Fatalf("expected error for empty cancels")
	}
	if _, err := EncodeAction(struct{}{}); err == nil {
		t.Fatalf("expected error for unsupported action")
	}
}

func TestSignerRecover(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	actions := []any{
		OrderAction{Type: "order", Orders: []OrderWire{testOrder(t, "")}, Grouping: "na"},
		CancelAction{Type: "cancel", Cancels: []CancelWire{{Asset: 1, OrderID: 77}}},
		UpdateLeverageAction{Type: "updateLeverage", Asset: 1, IsCross: true, Leverage: 3},
	}
	nonce := uint64(1700000000000)
	for _, action := range actions {
		sig, err := signer.SignL1Action(action, nonce, nil, nil)
		if err != nil {
			t.Fatalf("sign error: %v", err)
		}
		payload, err := EncodeAction(action)
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
		digest, err := typedDataHash(actionHash(payload, nonce, nil, nil), true)
		if err != nil {
			t.Fatalf("digest error: %v", err)
		}
		sigBytes, err := signatureBytes(sig)
		if err != nil {
			t.Fatalf("signature bytes error: %v", err)
		}
		pubKey, err := crypto.SigToPub(digest, sigBytes)
		if err != nil {
			t.Fatalf("recover error: %v", err)
		}
		if recovered := crypto.PubkeyToAddress(*pubKey); recovered != signer.Address() {
			t.Fatalf("%T: expected %s, got %s", action, signer.Address().Hex(), recovered.Hex())
		}
	}
}

func signatureBytes(sig Signature) ([]byte, error) {
	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return nil, err
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		return nil, err
	}
	if len(r) != 32 || len(s) != 32 {
		return nil, errUnexpectedSigLen
	}
	v := sig.V - 27
	if v < 0 || v > 1 {
		return nil, errUnexpectedSigV
	}
	out := append(append([]byte{}, r...), s...)
	out = append(out, byte(v))
	return out, nil
}

var errUnexpectedSigLen = errors.New("unexpected signature length")
var errUnexpectedSigV = errors.New("unexpected signature v")
