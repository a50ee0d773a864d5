package engine

import (
	"context"
	"errors"
	"io"

	"github.com/Rajchodisetti/sensex-scalper/internal/feed"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/report"
)

// Replay pushes every observation of src through ProcessTick and returns
// the report. Tick errors are logged and do not stop the run.
func (e *Engine) Replay(ctx context.Context, src feed.Source) (report.PerformanceReport, error) {
	if err := e.Run(ctx, src); err != nil {
		return e.Report(), err
	}
	r := e.Report()
	observ.Log("replay_finished", map[string]any{
		"total_trades":   r.TotalTrades,
		"total_pnl":      r.TotalPnL,
		"open_positions": r.OpenPositions,
		"recommendation": r.Recommendation,
	})
	return r, nil
}

// Run drives the engine until src is exhausted or ctx ends. A feed timeout
// still drains breaker commands so operators are not held up by a quiet
// market.
func (e *Engine) Run(ctx context.Context, src feed.Source) error {
	for {
		obs, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, feed.ErrNoData):
			observ.IncCounter("feed_timeouts_total", nil)
			e.Idle()
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if _, err := e.ProcessTick(ctx, obs); err != nil {
			observ.Error("tick_failed", map[string]any{"timestamp": obs.Timestamp, "error": err.Error()})
		}
	}
}
