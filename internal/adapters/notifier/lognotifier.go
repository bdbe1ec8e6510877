// Package notifier publishes trading lifecycle events. The log-backed
// implementation renders them as structured log entries; a chat-backed
// implementation can replace it without touching the trading loops.
package notifier

import (
	"context"
	"fmt"

	"tradepilot/internal/domain"
	"tradepilot/internal/ports"
)

// LogNotifier implements ports.Notifier by writing events to the logger.
type LogNotifier struct {
	logger ports.Logger
}

// NewLogNotifier creates a notifier that emits events through the logger.
func NewLogNotifier(logger ports.Logger) (*LogNotifier, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for log notifier")
	}
	return &LogNotifier{logger: logger}, nil
}

// PositionOpened reports a newly opened position.
func (n *LogNotifier) PositionOpened(ctx context.Context, pos *domain.Position) {
	if pos == nil {
		return
	}
	n.logger.Info(ctx, "NOTIFY Position opened", map[string]interface{}{
		"symbol":     pos.Symbol,
		"side":       pos.Side,
		"entryPrice": pos.EntryPrice,
		"quantity":   pos.Quantity,
		"stopLoss":   pos.StopLoss,
		"takeProfit": pos.TakeProfit,
		"strategy":   pos.Strategy,
	})
}

// PositionClosed reports a closed position and its realised outcome.
func (n *LogNotifier) PositionClosed(ctx context.Context, trade *domain.Trade) {
	if trade == nil {
		return
	}
	outcome := "LOSS"
	if trade.IsWin() {
		outcome = "WIN"
	}
	n.logger.Info(ctx, "NOTIFY Position closed", map[string]interface{}{
		"symbol":     trade.Symbol,
		"side":       trade.Side,
		"entryPrice": trade.EntryPrice,
		"exitPrice":  trade.ExitPrice,
		"pnl":        trade.PNL,
		"pnlPct":     trade.PNLPct,
		"reason":     trade.CloseReason,
		"outcome":    outcome,
	})
}

// DailyLossLimitReached reports that trading halted for the day.
func (n *LogNotifier) DailyLossLimitReached(ctx context.Context, dailyPNL, limit float64) {
	n.logger.Warn(ctx, "NOTIFY Daily loss limit reached, trading halted for today", map[string]interface{}{
		"dailyPnl": dailyPNL,
		"limit":    limit,
	})
}

// DailyProfitTargetReached reports that the daily profit target was met.
func (n *LogNotifier) DailyProfitTargetReached(ctx context.Context, dailyPNL, target float64) {
	n.logger.Info(ctx, "NOTIFY Daily profit target reached", map[string]interface{}{
		"dailyPnl": dailyPNL,
		"target":   target,
	})
}
