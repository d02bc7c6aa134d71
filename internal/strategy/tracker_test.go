package strategy

import (
	"testing"
	"time"
)

func TestOrderTrackerReconcile(t *testing.T) {
	tr := NewOrderTracker()
	t0 := time.Unix(1_700_000_000, 0)
	tr.Add(ActiveOrder{ID: "a", Side: SideBuy, CreatedAt: t0})
	tr.Add(ActiveOrder{ID: "b", Side: SideSell, CreatedAt: t0})

	unknown := tr.Reconcile([]ActiveOrder{{ID: "a"}, {ID: "x"}}, t0.Add(time.Second))
	if len(unknown) != 1 || unknown[0].ID != "x" {
		t.Fatalf("expected x reported as unknown, got %+v", unknown)
	}
	if !tr.Has("b") {
		t.Fatalf("expected unconfirmed order kept within grace period")
	}

	tr.Reconcile(nil, t0.Add(2*time.Second))
	if tr.Has("a") {
		t.Fatalf("expected confirmed order dropped once the exchange stops listing it")
	}
	if !tr.Has("b") {
		t.Fatalf("expected b kept within grace period")
	}

	tr.Reconcile(nil, t0.Add(trackerGrace+time.Second))
	if tr.Len() != 0 {
		t.Fatalf("expected unseen order dropped after grace period, got %d", tr.Len())
	}
}

func TestOrderTrackerOrdersSorted(t *testing.T) {
	tr := NewOrderTracker()
	t0 := time.Unix(1_700_000_000, 0)
	tr.Add(ActiveOrder{ID: "late", CreatedAt: t0.Add(time.Second)})
	tr.Add(ActiveOrder{ID: "early", CreatedAt: t0})
	orders := tr.Orders()
	if orders[0].ID != "early" || orders[1].ID != "late" {
		t.Fatalf("expected creation order, got %s, %s", orders[0].ID, orders[1].ID)
	}
}

func TestOrderTrackerCancelThrottle(t *testing.T) {
	tr := NewOrderTracker()
	t0 := time.Unix(1_700_000_000, 0)
	tr.Add(ActiveOrder{ID: "a", CreatedAt: t0})
	if tr.cancelRecentlySent("a", t0) {
		t.Fatalf("expected no cancel recorded")
	}
	tr.markCancelSent("a", t0)
	if !tr.cancelRecentlySent("a", t0.Add(2*time.Second)) {
		t.Fatalf("expected resend suppressed")
	}
	if tr.cancelRecentlySent("a", t0.Add(cancelRetryInterval)) {
		t.Fatalf("expected resend allowed after retry interval")
	}
}
