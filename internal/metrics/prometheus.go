package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_mm_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
	p.Metrics = &Metrics{
		QuotesPlaced:       p.counter("quotes_placed_total", "Total number of quote orders placed."),
		OrdersCancelled:    p.counter("orders_cancelled_total", "Total number of order cancellations requested."),
		OrdersFailed:       p.counter("orders_failed_total", "Total number of order failures reported."),
		ExitOrdersPlaced:   p.counter("exit_orders_placed_total", "Total number of profit-taking and stop-loss orders placed."),
		StopLossTriggered:  p.counter("stop_loss_triggered_total", "Total number of stop-loss triggers."),
		ErrorEscalations:   p.counter("error_escalations_total", "Total number of transitions into the error state."),
		OptimizerRuns:      p.counter("optimizer_runs_total", "Total number of completed parameter optimizer runs."),
		Gamma:              p.gauge("gamma", "Current risk aversion parameter."),
		Volatility:         p.gauge("volatility", "Current volatility estimate in price units."),
		OptimalSpread:      p.gauge("optimal_spread", "Current optimal quote spread in price units."),
		ReservationPrice:   p.gauge("reservation_price", "Current reservation price."),
		InventoryDeviation: p.gauge("inventory_deviation", "Current inventory deviation from target."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *Prometheus) gauge(name, help string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return promGauge{g}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
