package exchange

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeAction msgpack-encodes an L1 action with its keys in wire order. The
// action hash covers these bytes, so key order must match the exchange.
func EncodeAction(action any) ([]byte, error) {
	switch a := action.(type) {
	case OrderAction:
		return EncodeOrderAction(a)
	case CancelAction:
		return EncodeCancelAction(a)
	case CancelByCloidAction:
		return EncodeCancelByCloidAction(a)
	case UpdateLeverageAction:
		return EncodeUpdateLeverageAction(a)
	default:
		return nil, fmt.Errorf("unsupported action %T", action)
	}
}

func EncodeOrderAction(action OrderAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Orders) == 0 {
		return nil, errors.New("action orders are required")
	}
	if action.Grouping == "" {
		action.Grouping = "na"
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(3); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "type", action.Type); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("orders"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(action.Orders)); err != nil {
		return nil, err
	}
	for _, order := range action.Orders {
		if err := encodeOrderWire(enc, order); err != nil {
			return nil, err
		}
	}
	if err := encodeKV(enc, "grouping", action.Grouping); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeCancelAction(action CancelAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Cancels) == 0 {
		return nil, errors.New("action cancels are required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(2); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "type", action.Type); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("cancels"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(action.Cancels)); err != nil {
		return nil, err
	}
	for _, cancel := range action.Cancels {
		if err := enc.EncodeMapLen(2); err != nil {
			return nil, err
		}
		if err := encodeKV(enc, "a", cancel.Asset); err != nil {
			return nil, err
		}
		if err := encodeKV(enc, "o", cancel.OrderID); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func EncodeCancelByCloidAction(action CancelByCloidAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Cancels) == 0 {
		return nil, errors.New("action cancels are required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(2); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "type", action.Type); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("cancels"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(action.Cancels)); err != nil {
		return nil, err
	}
	for _, cancel := range action.Cancels {
		if cancel.Cloid == "" {
			return nil, errors.New("cancel cloid is required")
		}
		if err := enc.EncodeMapLen(2); err != nil {
			return nil, err
		}
		if err := encodeKV(enc, "asset", cancel.Asset); err != nil {
			return nil, err
		}
		if err := encodeKV(enc, "cloid", cancel.Cloid); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func EncodeUpdateLeverageAction(action UpdateLeverageAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if action.Leverage <= 0 {
		return nil, errors.New("leverage must be > 0")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(4); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "type", action.Type); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "asset", action.Asset); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "isCross", action.IsCross); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "leverage", action.Leverage); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeOrderWire(enc *msgpack.Encoder, order OrderWire) error {
	mapLen := 6
	if order.Cloid != "" {
		mapLen++
	}
	if err := enc.EncodeMapLen(mapLen); err != nil {
		return err
	}
	if err := encodeKV(enc, "a", order.Asset); err != nil {
		return err
	}
	if err := encodeKV(enc, "b", order.IsBuy); err != nil {
		return err
	}
	if err := encodeKV(enc, "p", order.Price); err != nil {
		return err
	}
	if err := encodeKV(enc, "s", order.Size); err != nil {
		return err
	}
	if err := encodeKV(enc, "r", order.ReduceOnly); err != nil {
		return err
	}
	if err := enc.EncodeString("t"); err != nil {
		return err
	}
	if err := encodeOrderTypeWire(enc, order.OrderType); err != nil {
		return err
	}
	if order.Cloid != "" {
		if err := encodeKV(enc, "c", order.Cloid); err != nil {
			return err
		}
	}
	return nil
}

func encodeOrderTypeWire(enc *msgpack.Encoder, orderType OrderTypeWire) error {
	if orderType.Limit == nil {
		return errors.New("limit order type required")
	}
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString("limit"); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	return encodeKV(enc, "tif", string(orderType.Limit.Tif))
}

// encodeKV writes a string key followed by a scalar value. Integers are
// written through EncodeInt so they use the compact msgpack forms.
func encodeKV(enc *msgpack.Encoder, key string, value any) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	switch v := value.(type) {
	case string:
		return enc.EncodeString(v)
	case bool:
		return enc.EncodeBool(v)
	case int:
		return enc.EncodeInt(int64(v))
	case int64:
		return enc.EncodeInt(v)
	default:
		return fmt.Errorf("unsupported value %T for key %s", value, key)
	}
}
