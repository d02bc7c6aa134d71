package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.QuotesPlaced.Inc()
	prom.Metrics.QuotesPlaced.Inc()
	prom.Metrics.OrdersCancelled.Inc()
	prom.Metrics.StopLossTriggered.Inc()

	assertCounter(t, prom.counters["quotes_placed_total"], 2)
	assertCounter(t, prom.counters["orders_cancelled_total"], 1)
	assertCounter(t, prom.counters["stop_loss_triggered_total"], 1)
	assertCounter(t, prom.counters["orders_failed_total"], 0)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Gamma.Set(1.25)
	prom.Metrics.OptimalSpread.Set(1.396)

	if got := testutil.ToFloat64(prom.gauges["gamma"]); got != 1.25 {
		t.Fatalf("expected gamma 1.25, got %v", got)
	}
	if got := testutil.ToFloat64(prom.gauges["optimal_spread"]); got != 1.396 {
		t.Fatalf("expected spread 1.396, got %v", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Volatility.Set(0.5)
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "hl_mm_bot_volatility 0.5") {
		t.Fatalf("expected volatility in exposition, got %s", rec.Body.String())
	}
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
