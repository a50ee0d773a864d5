package indicator

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"
)

// Params sizes the lookbacks used by Snapshot.
type Params struct {
	MomentumLookback  int
	VolatilitySamples int
	ShortMA           int
	LongMA            int
	RSIPeriod         int
}

func DefaultParams() Params {
	return Params{MomentumLookback: 5, VolatilitySamples: 10, ShortMA: 5, LongMA: 20, RSIPeriod: 14}
}

// Snapshot is the per-tick indicator view. It is recomputed from the window
// every tick and never stored.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Samples   int       `json:"samples"`

	ShortMA float64 `json:"sma_short"`
	LongMA  float64 `json:"sma_long"`

	// MomentumPct is in percent: 0.1125 means +0.1125%.
	MomentumPct float64 `json:"momentum_pct"`

	// VolatilityBps is the population stddev of recent tick-to-tick
	// percentage changes, in basis points. Undefined below two samples.
	VolatilityBps   float64 `json:"volatility_bps"`
	VolatilityReady bool    `json:"volatility_ready"`

	// LastMovePoints is latest minus previous price.
	LastMovePoints float64 `json:"last_move_points"`

	RSI      float64 `json:"rsi"`
	RSIReady bool    `json:"rsi_ready"`

	OpenInterest map[int]int64 `json:"-"`
}

// MovePoints converts momentum into index points at the current price.
func (s Snapshot) MovePoints() float64 {
	return math.Abs(s.MomentumPct) / 100 * s.Price
}

// Values exposes the snapshot to trigger conditions. Indicators that are
// not ready yet are left out so conditions on them do not match.
func (s Snapshot) Values() map[string]float64 {
	v := map[string]float64{
		"price":            s.Price,
		"volume":           s.Volume,
		"sma_short":        s.ShortMA,
		"sma_long":         s.LongMA,
		"momentum_pct":     s.MomentumPct,
		"last_move_points": s.LastMovePoints,
	}
	if s.VolatilityReady {
		v["volatility_bps"] = s.VolatilityBps
	}
	if s.RSIReady {
		v["rsi"] = s.RSI
	}
	return v
}

// Snapshot computes indicators over the retained observations.
func (w *Window) Snapshot(p Params) Snapshot {
	latest, ok := w.Latest()
	if !ok {
		return Snapshot{}
	}
	prices := w.Prices()
	s := Snapshot{
		Timestamp:    latest.Timestamp,
		Price:        latest.Price,
		Volume:       latest.Volume,
		Samples:      len(prices),
		OpenInterest: latest.OpenInterest,
	}
	s.ShortMA = tailMean(prices, p.ShortMA)
	s.LongMA = tailMean(prices, p.LongMA)
	if len(prices) < 2 {
		return s
	}

	s.LastMovePoints = prices[len(prices)-1] - prices[len(prices)-2]

	k := p.MomentumLookback
	if k < 1 || k > len(prices)-1 {
		k = len(prices) - 1
	}
	base := prices[len(prices)-1-k]
	if base != 0 {
		s.MomentumPct = (latest.Price - base) / base * 100
	}

	deltas := pctDeltas(tail(prices, p.VolatilitySamples+1))
	if sd, err := stats.StandardDeviationPopulation(deltas); err == nil {
		s.VolatilityBps = sd * 10000
		s.VolatilityReady = true
	}

	if rsi, ok := rsi(prices, p.RSIPeriod); ok {
		s.RSI = rsi
		s.RSIReady = true
	}
	return s
}

func tail(xs []float64, n int) []float64 {
	if n <= 0 || n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}

func tailMean(xs []float64, n int) float64 {
	m, err := stats.Mean(tail(xs, n))
	if err != nil {
		return 0
	}
	return m
}

// pctDeltas returns fractional tick-to-tick changes.
func pctDeltas(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// rsi uses simple averages of gains and losses over the last period deltas.
func rsi(prices []float64, period int) (float64, bool) {
	if period < 1 || len(prices) < period+1 {
		return 0, false
	}
	window := prices[len(prices)-period-1:]
	var gain, loss float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	if loss == 0 {
		if gain == 0 {
			return 50, true
		}
		return 100, true
	}
	return 100 - 100/(1+gain/loss), true
}
