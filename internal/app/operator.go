package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hl-mm-bot/internal/alerts"
	"hl-mm-bot/internal/optimizer"
	"hl-mm-bot/internal/state"
	"hl-mm-bot/internal/strategy"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

func (a *App) operatorSettings() (int64, map[int64]struct{}, time.Duration, bool) {
	if a.cfg == nil || a.log == nil || !a.alerts.Enabled() {
		return 0, nil, 0, false
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return 0, nil, 0, false
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return 0, nil, 0, false
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	return chatID, allowedUsers, pollInterval, true
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /status@botname.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, _ []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		var st strategy.Status
		if err := a.do(ctx, func() { st = a.strategy.Status() }); err != nil {
			return "", err
		}
		return strategy.FormatStatus(st), nil
	case "pause", "resume":
		pause := cmd == "pause"
		var before, after bool
		if err := a.do(ctx, func() {
			before = a.strategy.Paused()
			a.strategy.SetPaused(pause)
			after = a.strategy.Paused()
			if pause && !before {
				a.cancelResting(ctx, true)
			}
		}); err != nil {
			return "", err
		}
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       cmd,
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		switch {
		case pause && before:
			return "quoting already paused", nil
		case pause:
			return "quoting paused, resting quotes cancelled", nil
		case !before:
			return "quoting already active", nil
		default:
			return "quoting resumed", nil
		}
	case "gamma":
		var stats *strategy.GammaStats
		var gamma float64
		if err := a.do(ctx, func() {
			gamma = a.strategy.Gamma()
			if l := a.strategy.Learner(); l != nil {
				s := l.Statistics()
				stats = &s
			}
		}); err != nil {
			return "", err
		}
		return formatGamma(gamma, stats), nil
	case "params":
		res, ok, err := state.LoadOptimizerResult(ctx, a.store, a.cfg.Strategy.Coin)
		if err != nil {
			return "", err
		}
		if !ok {
			return "no optimizer result stored", nil
		}
		return formatOptimizerResult(res), nil
	case "optimize":
		res, err := a.runOptimizer(ctx)
		if err != nil {
			return "", err
		}
		return formatOptimizerResult(res), nil
	default:
		return operatorHelpText(), nil
	}
}

func formatGamma(gamma float64, stats *strategy.GammaStats) string {
	if stats == nil {
		return fmt.Sprintf("gamma: %.6f (fixed)", gamma)
	}
	return strings.Join([]string{
		fmt.Sprintf("gamma: %.6f (adaptive)", gamma),
		fmt.Sprintf("bounds: [%.6f, %.6f]", stats.GammaLow, stats.GammaHigh),
		fmt.Sprintf("avg_reward: %.6f", stats.AvgReward),
		fmt.Sprintf("reward_std: %.6f", stats.RewardStd),
		fmt.Sprintf("updates: %d", stats.UpdateCount),
		fmt.Sprintf("samples: %d", stats.Samples),
	}, "\n")
}

func formatOptimizerResult(res optimizer.Result) string {
	return strings.Join([]string{
		fmt.Sprintf("asset: %s", res.Asset),
		fmt.Sprintf("computed_at: %s", time.UnixMilli(res.ComputedAtMS).UTC().Format(time.RFC3339)),
		fmt.Sprintf("mid: %.6f", res.MidPrice),
		fmt.Sprintf("daily_volatility: %.4f%%", res.DailyVolatilityPct),
		fmt.Sprintf("bid_spread: %s%%", res.BidSpread),
		fmt.Sprintf("ask_spread: %s%%", res.AskSpread),
		fmt.Sprintf("long_profit_taking: %s%%", res.LongProfitTaking),
		fmt.Sprintf("short_profit_taking: %s%%", res.ShortProfitTaking),
		fmt.Sprintf("stop_loss: %s%%", res.StopLoss),
	}, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - strategy state, quote and positions",
		"/pause - stop quoting and cancel resting quotes, exits keep running",
		"/resume - resume quoting",
		"/gamma - risk aversion and learner statistics",
		"/params - last optimizer result",
		"/optimize - run the parameter optimizer now",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
