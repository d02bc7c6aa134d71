package strategy

import (
	"sort"
	"time"
)

const (
	// trackerGrace is how long a submitted order may stay unseen by the
	// exchange before it is dropped from local tracking.
	trackerGrace        = 10 * time.Second
	cancelRetryInterval = 5 * time.Second
)

type trackedOrder struct {
	ActiveOrder
	confirmed    bool
	cancelSentAt time.Time
}

// OrderTracker is the local view of quote orders this strategy opened.
type OrderTracker struct {
	orders map[string]*trackedOrder
}

func NewOrderTracker() *OrderTracker {
	return &OrderTracker{orders: make(map[string]*trackedOrder)}
}

func (t *OrderTracker) Add(order ActiveOrder) {
	t.orders[order.ID] = &trackedOrder{ActiveOrder: order}
}

func (t *OrderTracker) Remove(id string) bool {
	if _, ok := t.orders[id]; !ok {
		return false
	}
	delete(t.orders, id)
	return true
}

func (t *OrderTracker) Has(id string) bool {
	_, ok := t.orders[id]
	return ok
}

func (t *OrderTracker) Len() int {
	return len(t.orders)
}

// Orders returns tracked orders sorted by creation time.
func (t *OrderTracker) Orders() []ActiveOrder {
	out := make([]ActiveOrder, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, o.ActiveOrder)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Reconcile aligns local tracking with an exchange order listing. Orders the
// exchange has acknowledged and no longer lists are dropped, as are orders it
// never listed within the grace period. Exchange orders unknown locally are
// returned for the caller to deal with.
func (t *OrderTracker) Reconcile(remote []ActiveOrder, now time.Time) (unknown []ActiveOrder) {
	seen := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		seen[r.ID] = struct{}{}
		if o, ok := t.orders[r.ID]; ok {
			o.confirmed = true
			continue
		}
		unknown = append(unknown, r)
	}
	for id, o := range t.orders {
		if _, ok := seen[id]; ok {
			continue
		}
		if o.confirmed || now.Sub(o.CreatedAt) > trackerGrace {
			delete(t.orders, id)
		}
	}
	return unknown
}

func (t *OrderTracker) markCancelSent(id string, at time.Time) {
	if o, ok := t.orders[id]; ok {
		o.cancelSentAt = at
	}
}

func (t *OrderTracker) cancelRecentlySent(id string, now time.Time) bool {
	o, ok := t.orders[id]
	if !ok || o.cancelSentAt.IsZero() {
		return false
	}
	return now.Sub(o.cancelSentAt) < cancelRetryInterval
}
