package state

import (
	"context"
	"strings"

	"hl-mm-bot/internal/optimizer"
)

const optimizerResultPrefix = "optimizer:last_result:"

func optimizerResultKey(coin string) string {
	return optimizerResultPrefix + strings.ToUpper(strings.TrimSpace(coin))
}

// LoadOptimizerResult returns the most recent recommendation stored for coin.
func LoadOptimizerResult(ctx context.Context, store Store, coin string) (optimizer.Result, bool, error) {
	var result optimizer.Result
	ok, err := loadJSON(ctx, store, optimizerResultKey(coin), &result)
	return result, ok, err
}

func SaveOptimizerResult(ctx context.Context, store Store, result optimizer.Result) error {
	return saveJSON(ctx, store, optimizerResultKey(result.Asset), result)
}
