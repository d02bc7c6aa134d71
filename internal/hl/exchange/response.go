package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrOrderNotFound is reported when a cancel targets an order that is no
// longer on the book.
var ErrOrderNotFound = errors.New("order was never placed, already canceled, or filled")

// Response is the envelope returned by /exchange. On "err" the inner response
// is a plain message string.
type Response struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// APIError is an action the exchange refused outright or per order.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "exchange rejected action: " + e.Message
}

type RestingStatus struct {
	Oid   int64  `json:"oid"`
	Cloid string `json:"cloid,omitempty"`
}

type FilledStatus struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	Oid     int64  `json:"oid"`
	Cloid   string `json:"cloid,omitempty"`
}

// OrderStatus is one entry of data.statuses. Cancels report the bare string
// "success"; orders report resting, filled or error objects.
type OrderStatus struct {
	Success bool
	Resting *RestingStatus
	Filled  *FilledStatus
	Error   string
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Success = text == "success"
		if !s.Success {
			s.Error = text
		}
		return nil
	}
	var obj struct {
		Resting *RestingStatus `json:"resting"`
		Filled  *FilledStatus  `json:"filled"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Resting = obj.Resting
	s.Filled = obj.Filled
	s.Error = obj.Error
	s.Success = obj.Error == "" && (obj.Resting != nil || obj.Filled != nil)
	return nil
}

func (s OrderStatus) OrderID() string {
	switch {
	case s.Resting != nil:
		return strconv.FormatInt(s.Resting.Oid, 10)
	case s.Filled != nil:
		return strconv.FormatInt(s.Filled.Oid, 10)
	default:
		return ""
	}
}

// Err maps a per-order error onto ErrOrderNotFound or an APIError.
func (s OrderStatus) Err() error {
	if s.Error == "" {
		return nil
	}
	lower := strings.ToLower(s.Error)
	if strings.Contains(lower, "already canceled") || strings.Contains(lower, "never placed") {
		return fmt.Errorf("%s: %w", s.Error, ErrOrderNotFound)
	}
	return &APIError{Message: s.Error}
}

// Statuses decodes data.statuses from an "ok" response.
func (r Response) Statuses() ([]OrderStatus, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	var body struct {
		Type string `json:"type"`
		Data struct {
			Statuses []OrderStatus `json:"statuses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(r.Response, &body); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	return body.Data.Statuses, nil
}

// Err reports a top-level "err" status.
func (r Response) Err() error {
	if r.Status == "ok" {
		return nil
	}
	var msg string
	if err := json.Unmarshal(r.Response, &msg); err != nil || msg == "" {
		msg = strings.TrimSpace(string(r.Response))
	}
	if msg == "" {
		msg = "status " + r.Status
	}
	return &APIError{Message: msg}
}

// FirstStatus returns the single status of a one-order action, surfacing its
// error if any.
func (r Response) FirstStatus() (OrderStatus, error) {
	statuses, err := r.Statuses()
	if err != nil {
		return OrderStatus{}, err
	}
	if len(statuses) == 0 {
		return OrderStatus{}, errors.New("missing order status in exchange response")
	}
	st := statuses[0]
	return st, st.Err()
}

// PlacedOrderID extracts the exchange order id of a single placed order.
func PlacedOrderID(resp Response) (string, error) {
	st, err := resp.FirstStatus()
	if err != nil {
		return "", err
	}
	if id := st.OrderID(); id != "" {
		return id, nil
	}
	return "", errors.New("missing order id in exchange response")
}
