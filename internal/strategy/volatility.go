package strategy

import "math"

// defaultVolatilityFrac is the fraction of mid price used as volatility until
// the sample window is full.
const defaultVolatilityFrac = 0.01

// VolatilityEstimator measures instant volatility over a rolling window of mid
// prices: the root mean square of successive price changes, in price units.
type VolatilityEstimator struct {
	samples *RingBuffer
}

func NewVolatilityEstimator(bufferSize int) *VolatilityEstimator {
	return &VolatilityEstimator{samples: NewRingBuffer(bufferSize)}
}

func (v *VolatilityEstimator) AddSample(price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	v.samples.Add(price)
}

func (v *VolatilityEstimator) IsReady() bool {
	return v.samples.Full()
}

func (v *VolatilityEstimator) SampleCount() int {
	return v.samples.Len()
}

func (v *VolatilityEstimator) BufferSize() int {
	return v.samples.Cap()
}

// CurrentValue returns the windowed estimate. It is meaningful once at least
// two samples exist; callers should prefer ValueOrDefault before IsReady.
func (v *VolatilityEstimator) CurrentValue() float64 {
	values := v.samples.Values()
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// ValueOrDefault returns the estimate when ready and 1% of mid otherwise.
func (v *VolatilityEstimator) ValueOrDefault(mid float64) float64 {
	if !v.IsReady() {
		return mid * defaultVolatilityFrac
	}
	return v.CurrentValue()
}

func (v *VolatilityEstimator) Reset() {
	v.samples.Reset()
}
