package state

import (
	"context"
	"encoding/json"
	"strings"
)

const StrategySnapshotKey = "strategy:last_snapshot"

// StrategySnapshot is the persisted view of the market maker written every
// tick. Timers survive restarts so cooldowns are not bypassed.
type StrategySnapshot struct {
	Pair              string  `json:"pair"`
	State             string  `json:"state"`
	Paused            bool    `json:"paused"`
	Gamma             float64 `json:"gamma"`
	Mid               string  `json:"mid"`
	Volatility        float64 `json:"volatility"`
	Alpha             float64 `json:"alpha"`
	Kappa             float64 `json:"kappa"`
	ReservationPrice  string  `json:"reservation_price"`
	OptimalSpread     string  `json:"optimal_spread"`
	Bid               string  `json:"bid"`
	Ask               string  `json:"ask"`
	InventoryDev      float64 `json:"inventory_deviation"`
	Position          string  `json:"position"`
	ActiveOrders      int     `json:"active_orders"`
	ConsecutiveErrors int     `json:"consecutive_errors"`
	LastErrorAtMS     int64   `json:"last_error_at_ms,omitempty"`
	LastStopLossAtMS  int64   `json:"last_stop_loss_at_ms,omitempty"`
	UpdatedAtMS       int64   `json:"updated_at_ms"`
}

func LoadStrategySnapshot(ctx context.Context, store Store) (StrategySnapshot, bool, error) {
	var snapshot StrategySnapshot
	ok, err := loadJSON(ctx, store, StrategySnapshotKey, &snapshot)
	return snapshot, ok, err
}

func SaveStrategySnapshot(ctx context.Context, store Store, snapshot StrategySnapshot) error {
	return saveJSON(ctx, store, StrategySnapshotKey, snapshot)
}

func loadJSON(ctx context.Context, store Store, key string, out any) (bool, error) {
	if store == nil {
		return false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

func saveJSON(ctx context.Context, store Store, key string, value any) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload))
}
