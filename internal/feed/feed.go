// Package feed supplies observations to the engine from fixtures, files,
// a seeded simulator, or a live transport.
package feed

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
)

// ErrNoData means no observation arrived within the wait bound. The caller
// may try again; the source is still usable.
var ErrNoData = errors.New("feed: no data before deadline")

// Source yields observations in timestamp order. Next returns io.EOF when
// the source is exhausted.
type Source interface {
	Next(ctx context.Context) (indicator.Observation, error)
}

// Slice replays a fixed series.
type Slice struct {
	obs []indicator.Observation
	i   int
}

func NewSlice(obs []indicator.Observation) *Slice {
	return &Slice{obs: obs}
}

func (s *Slice) Next(ctx context.Context) (indicator.Observation, error) {
	if err := ctx.Err(); err != nil {
		return indicator.Observation{}, err
	}
	if s.i >= len(s.obs) {
		return indicator.Observation{}, io.EOF
	}
	o := s.obs[s.i]
	s.i++
	return o, nil
}

func (s *Slice) Len() int { return len(s.obs) }

// SimConfig shapes a simulated session.
type SimConfig struct {
	Seed       int64
	Start      time.Time
	Steps      int
	Interval   time.Duration
	BasePrice  float64
	Volatility float64 // per-step stddev as a fraction of price
	Strikes    int     // option strikes around the money, 100 apart; 0 disables OI
}

// Simulate generates a random walk. The same config always yields the same
// series. Prices are floored at 90% of the base.
func Simulate(cfg SimConfig) []indicator.Observation {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 80000
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.0008
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	floor := cfg.BasePrice * 0.9

	out := make([]indicator.Observation, 0, cfg.Steps)
	price := cfg.BasePrice
	for i := 0; i < cfg.Steps; i++ {
		drift := math.Sin(float64(i)*0.01) * cfg.BasePrice * 0.00005
		price = math.Max(floor, price*(1+rng.NormFloat64()*cfg.Volatility)+drift)
		price = math.Round(price*100) / 100
		obs := indicator.Observation{
			Timestamp: cfg.Start.Add(time.Duration(i) * cfg.Interval),
			Price:     price,
			Volume:    float64(1000 + rng.Intn(9000)),
		}
		if cfg.Strikes > 0 {
			atm := int(math.Round(price/100)) * 100
			obs.OpenInterest = make(map[int]int64, 2*cfg.Strikes+1)
			for k := -cfg.Strikes; k <= cfg.Strikes; k++ {
				obs.OpenInterest[atm+k*100] = int64(rng.Intn(50000))
			}
		}
		out = append(out, obs)
	}
	return out
}
