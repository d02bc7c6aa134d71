package strategy

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

const (
	gammaMinSamples     = 20
	gammaRecentWindow   = 10
	gammaNoiseFloor     = 1e-6
	inventoryPenalty    = 0.1
	spreadPenalty       = 0.05
	idealSpreadVolRatio = 2.0
)

type GammaParams struct {
	Initial         float64
	LearningRate    float64
	Min             float64
	Max             float64
	RewardWindow    int
	UpdateFrequency int
}

func (p GammaParams) validate() error {
	if p.Min <= 0 || p.Min >= p.Max {
		return fmt.Errorf("gamma bounds [%v, %v] invalid: %w", p.Min, p.Max, ErrInvalidParams)
	}
	if p.Initial < p.Min || p.Initial > p.Max {
		return fmt.Errorf("initial gamma %v outside [%v, %v]: %w", p.Initial, p.Min, p.Max, ErrInvalidParams)
	}
	if p.LearningRate <= 0 || p.RewardWindow <= 0 || p.UpdateFrequency <= 0 {
		return fmt.Errorf("gamma learning rate, reward window and update frequency must be > 0: %w", ErrInvalidParams)
	}
	return nil
}

// GammaLearner adjusts the risk aversion parameter online from a reward that
// combines PnL change with inventory and spread-efficiency penalties.
type GammaLearner struct {
	params   GammaParams
	gamma    float64
	rewards  *RingBuffer
	gammas   *RingBuffer
	ticks    int
	lastPnL  float64
	baseline float64
	log      *zap.Logger
}

type GammaStats struct {
	Gamma       float64
	AvgReward   float64
	RewardStd   float64
	GammaLow    float64
	GammaHigh   float64
	UpdateCount int
	Samples     int
}

func NewGammaLearner(params GammaParams, log *zap.Logger) (*GammaLearner, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GammaLearner{
		params:  params,
		gamma:   params.Initial,
		rewards: NewRingBuffer(params.RewardWindow),
		gammas:  NewRingBuffer(params.RewardWindow),
		log:     log,
	}, nil
}

func (g *GammaLearner) Gamma() float64 {
	return g.gamma
}

func (g *GammaLearner) Params() GammaParams {
	return g.params
}

// Update records one observation and, every UpdateFrequency calls, steps
// gamma towards whichever direction recently improved the reward.
func (g *GammaLearner) Update(pnl, inventoryDeviation, volatility, spread float64) float64 {
	g.ticks++
	reward := (pnl - g.lastPnL) -
		inventoryPenalty*math.Abs(inventoryDeviation) -
		spreadPenalty*math.Abs(spread-idealSpreadVolRatio*volatility)
	g.lastPnL = pnl
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		reward = 0
	}
	g.rewards.Add(reward)
	g.gammas.Add(g.gamma)

	if g.ticks%g.params.UpdateFrequency == 0 && g.rewards.Len() >= gammaMinSamples {
		g.step()
	}
	return g.gamma
}

func (g *GammaLearner) step() {
	rewards := g.rewards.Values()
	split := len(rewards) - gammaRecentWindow
	recent := mean(rewards[split:])
	g.baseline = mean(rewards[:split])
	improvement := recent - g.baseline
	if math.Abs(improvement) <= gammaNoiseFloor {
		return
	}

	gammas := g.gammas.Values()
	if len(gammas) > gammaRecentWindow {
		gammas = gammas[len(gammas)-gammaRecentWindow:]
	}
	trend := 0.0
	if len(gammas) > 1 {
		diffs := make([]float64, 0, len(gammas)-1)
		for i := 1; i < len(gammas); i++ {
			diffs = append(diffs, gammas[i]-gammas[i-1])
		}
		trend = mean(diffs)
	}

	direction := sign(improvement)
	if math.Abs(trend) > gammaNoiseFloor {
		direction = sign(improvement * trend)
	}
	prev := g.gamma
	g.gamma = clamp(g.gamma+g.params.LearningRate*math.Abs(improvement)*direction, g.params.Min, g.params.Max)
	g.log.Debug("gamma updated",
		zap.Float64("gamma", g.gamma),
		zap.Float64("previous", prev),
		zap.Float64("reward_improvement", improvement),
		zap.Float64("gamma_trend", trend),
	)
}

// Reset clears history and counters and restores the initial gamma.
func (g *GammaLearner) Reset() {
	g.rewards.Reset()
	g.gammas.Reset()
	g.ticks = 0
	g.lastPnL = 0
	g.baseline = 0
	g.gamma = g.params.Initial
}

func (g *GammaLearner) Statistics() GammaStats {
	stats := GammaStats{
		Gamma:       g.gamma,
		GammaLow:    g.gamma,
		GammaHigh:   g.gamma,
		UpdateCount: g.ticks / g.params.UpdateFrequency,
		Samples:     g.rewards.Len(),
	}
	rewards := g.rewards.Values()
	if len(rewards) == 0 {
		return stats
	}
	stats.AvgReward = mean(rewards)
	variance := 0.0
	for _, r := range rewards {
		d := r - stats.AvgReward
		variance += d * d
	}
	stats.RewardStd = math.Sqrt(variance / float64(len(rewards)))
	gammas := g.gammas.Values()
	stats.GammaLow, stats.GammaHigh = gammas[0], gammas[0]
	for _, v := range gammas[1:] {
		stats.GammaLow = math.Min(stats.GammaLow, v)
		stats.GammaHigh = math.Max(stats.GammaHigh, v)
	}
	return stats
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
