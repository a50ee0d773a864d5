package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/sensex-scalper/internal/lifecycle"
)

var base = time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC)

func trades(tier string, pnls ...float64) []lifecycle.ClosedTradeRecord {
	out := make([]lifecycle.ClosedTradeRecord, len(pnls))
	for i, p := range pnls {
		status := lifecycle.StatusTargetHit
		if p < 0 {
			status = lifecycle.StatusStoppedOut
		}
		out[i] = lifecycle.ClosedTradeRecord{
			PositionID: tier + string(rune('a'+i)),
			Tier:       tier,
			EntryTime:  base.Add(time.Duration(i) * time.Minute),
			ExitTime:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Notional:   80000,
			PnL:        p,
			ReturnPct:  p / 800,
			Status:     status,
		}
	}
	return out
}

func TestZeroTradeReport(t *testing.T) {
	r := Compute(nil, 100000)
	assert.Equal(t, 0, r.TotalTrades)
	assert.Equal(t, 0.0, r.WinRate)
	assert.Equal(t, 0.0, r.Sharpe)
	assert.Equal(t, 0.0, r.MaxDrawdown)
	assert.Equal(t, 100000.0, r.FinalCapital)
	assert.Contains(t, r.Recommendation, "NO_TRADES")
	_, err := r.JSON()
	require.NoError(t, err)
}

func TestCompute(t *testing.T) {
	recs := trades("moderate", 20, -15, 0, 30)
	recs = append(recs, trades("forced", -25)...)
	r := Compute(recs, 10000)

	assert.Equal(t, 5, r.TotalTrades)
	assert.Equal(t, 2, r.ProfitableTrades)
	assert.Equal(t, 2, r.LosingTrades)
	assert.InDelta(t, 0.4, r.WinRate, 1e-12)
	assert.InDelta(t, 10.0, r.TotalPnL, 1e-12)
	assert.InDelta(t, 2.0, r.AvgPnL, 1e-12)
	assert.Equal(t, 30.0, r.MaxProfit)
	assert.Equal(t, -25.0, r.MaxLoss)
	// cum: 20, 5, 5, 35, 10 -> worst is 10 - 35
	assert.Equal(t, -25.0, r.MaxDrawdown)
	assert.InDelta(t, 0.1, r.TotalReturnPct, 1e-12)
	assert.Equal(t, 10010.0, r.FinalCapital)
	assert.Equal(t, map[string]int{"TARGET_HIT": 3, "STOPPED_OUT": 2}, r.ByStatus)

	mod := r.ByTier["moderate"]
	assert.Equal(t, 4, mod.Trades)
	assert.Equal(t, 2, mod.Wins)
	assert.InDelta(t, 35.0, mod.TotalPnL, 1e-12)
	assert.Equal(t, []string{"forced", "moderate"}, r.Tiers())
	assert.Equal(t, base, r.From)
	assert.Contains(t, r.Recommendation, "MODERATE")
}

func TestSharpe(t *testing.T) {
	assert.Zero(t, Sharpe(nil))
	assert.Zero(t, Sharpe([]float64{1}))
	assert.Zero(t, Sharpe([]float64{2, 2, 2}))

	// mean 2, sample sd 1
	got := Sharpe([]float64{1, 2, 3})
	assert.InDelta(t, 2*math.Sqrt(252), got, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name string
		cum  []float64
		want float64
	}{
		{"empty", nil, 0},
		{"only up", []float64{1, 2, 3}, 0},
		{"first trade loses then recovers", []float64{-10, -5}, 0},
		{"losing streak", []float64{-10, -25, -15}, -15},
		{"single point", []float64{-40}, 0},
		{"peak then fall", []float64{5, 20, -4, 8}, -24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxDrawdown(tt.cum))
		})
	}
}

func TestRecommend(t *testing.T) {
	assert.Contains(t, Recommend(6, 61, 10), "EXCELLENT")
	assert.Contains(t, Recommend(3, 56, 10), "GOOD")
	assert.Contains(t, Recommend(6, 50, 10), "MODERATE")
	assert.Contains(t, Recommend(-1, 80, 10), "POOR")
}

func TestPlotEquity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "equity.png")
	require.NoError(t, PlotEquity(trades("forced", 10, -5, 20), path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, PlotEquity(nil, path))
}

func TestUploaderObjectName(t *testing.T) {
	u := NewUploader("reports", "/backtests/")
	assert.Equal(t, "backtests/run-1/report.json", u.ObjectName("run-1", "/tmp/out/report.json"))
	assert.Equal(t, "run-2/equity.png", NewUploader("reports", "").ObjectName("run-2", "equity.png"))
}
