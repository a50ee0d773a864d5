package report

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/Rajchodisetti/sensex-scalper/internal/lifecycle"
)

const tradingDaysPerYear = 252

// TierSummary is one tier's slice of the ledger.
type TierSummary struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl"`
}

// PerformanceReport aggregates closed trades. A report over zero trades is
// valid and all its metrics are zero.
type PerformanceReport struct {
	TotalTrades      int                    `json:"total_trades"`
	ProfitableTrades int                    `json:"profitable_trades"`
	LosingTrades     int                    `json:"losing_trades"`
	WinRate          float64                `json:"win_rate"`
	TotalPnL         float64                `json:"total_pnl"`
	AvgPnL           float64                `json:"avg_pnl"`
	MaxProfit        float64                `json:"max_profit"`
	MaxLoss          float64                `json:"max_loss"`
	Sharpe           float64                `json:"sharpe"`
	MaxDrawdown      float64                `json:"max_drawdown"`
	InitialCapital   float64                `json:"initial_capital"`
	FinalCapital     float64                `json:"final_capital"`
	TotalReturnPct   float64                `json:"total_return_pct"`
	ByTier           map[string]TierSummary `json:"by_tier"`
	ByStatus         map[string]int         `json:"by_status"`
	OpenPositions    int                    `json:"open_positions"`
	From             time.Time              `json:"from,omitempty"`
	To               time.Time              `json:"to,omitempty"`
	Recommendation   string                 `json:"recommendation"`
}

func (r PerformanceReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Compute builds the report from records in close order.
func Compute(records []lifecycle.ClosedTradeRecord, initialCapital float64) PerformanceReport {
	r := PerformanceReport{
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
		ByTier:         map[string]TierSummary{},
		ByStatus:       map[string]int{},
	}
	if len(records) == 0 {
		r.Recommendation = Recommend(0, 0, 0)
		return r
	}

	pnls := make([]float64, len(records))
	returns := make([]float64, len(records))
	r.MaxProfit = math.Inf(-1)
	r.MaxLoss = math.Inf(1)
	r.From, r.To = records[0].EntryTime, records[0].ExitTime
	for i, rec := range records {
		pnls[i] = rec.PnL
		returns[i] = rec.ReturnPct
		r.TotalPnL += rec.PnL
		r.MaxProfit = math.Max(r.MaxProfit, rec.PnL)
		r.MaxLoss = math.Min(r.MaxLoss, rec.PnL)
		r.ByStatus[string(rec.Status)]++
		if rec.EntryTime.Before(r.From) {
			r.From = rec.EntryTime
		}
		if rec.ExitTime.After(r.To) {
			r.To = rec.ExitTime
		}

		ts := r.ByTier[rec.Tier]
		ts.Trades++
		ts.TotalPnL += rec.PnL
		switch {
		case rec.PnL > 0:
			r.ProfitableTrades++
			ts.Wins++
		case rec.PnL < 0:
			r.LosingTrades++
			ts.Losses++
		}
		r.ByTier[rec.Tier] = ts
	}
	for name, ts := range r.ByTier {
		ts.WinRate = float64(ts.Wins) / float64(ts.Trades)
		ts.AvgPnL = ts.TotalPnL / float64(ts.Trades)
		r.ByTier[name] = ts
	}

	r.TotalTrades = len(records)
	r.WinRate = float64(r.ProfitableTrades) / float64(r.TotalTrades)
	r.AvgPnL, _ = stats.Mean(pnls)
	r.Sharpe = Sharpe(returns)
	r.MaxDrawdown = MaxDrawdown(EquityCurve(records))
	r.FinalCapital = initialCapital + r.TotalPnL
	if initialCapital > 0 {
		r.TotalReturnPct = r.TotalPnL / initialCapital * 100
	}
	r.Recommendation = Recommend(r.TotalReturnPct, r.WinRate*100, r.TotalTrades)
	return r
}

// Sharpe is mean/stddev of per-trade returns scaled by sqrt(252). It is 0
// with fewer than two trades or no dispersion.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDaysPerYear)
}

// EquityCurve is cumulative P&L after each trade.
func EquityCurve(records []lifecycle.ClosedTradeRecord) []float64 {
	out := make([]float64, len(records))
	cum := 0.0
	for i, rec := range records {
		cum += rec.PnL
		out[i] = cum
	}
	return out
}

// MaxDrawdown is min(cum[t] - max(cum[0..t])). The running max starts at
// the first point, so a losing first trade alone is not a drawdown.
func MaxDrawdown(cum []float64) float64 {
	if len(cum) == 0 {
		return 0
	}
	peak, dd := cum[0], 0.0
	for _, v := range cum {
		peak = math.Max(peak, v)
		dd = math.Min(dd, v-peak)
	}
	return dd
}

func Recommend(totalReturnPct, winRatePct float64, trades int) string {
	switch {
	case trades == 0:
		return "NO_TRADES - need more data"
	case totalReturnPct > 5 && winRatePct > 60:
		return "EXCELLENT - ready for live trading"
	case totalReturnPct > 2 && winRatePct > 55:
		return "GOOD - proceed with caution"
	case totalReturnPct > 0:
		return "MODERATE - consider parameter optimization"
	default:
		return "POOR - strategy needs adjustment"
	}
}

// Tiers returns the tier names in the report, sorted.
func (r PerformanceReport) Tiers() []string {
	names := make([]string, 0, len(r.ByTier))
	for n := range r.ByTier {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
