package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	QuotesPlaced      Counter
	OrdersCancelled   Counter
	OrdersFailed      Counter
	ExitOrdersPlaced  Counter
	StopLossTriggered Counter
	ErrorEscalations  Counter
	OptimizerRuns     Counter

	Gamma              Gauge
	Volatility         Gauge
	OptimalSpread      Gauge
	ReservationPrice   Gauge
	InventoryDeviation Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		QuotesPlaced:       n,
		OrdersCancelled:    n,
		OrdersFailed:       n,
		ExitOrdersPlaced:   n,
		StopLossTriggered:  n,
		ErrorEscalations:   n,
		OptimizerRuns:      n,
		Gamma:              g,
		Volatility:         g,
		OptimalSpread:      g,
		ReservationPrice:   g,
		InventoryDeviation: g,
	}
}
