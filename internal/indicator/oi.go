package indicator

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// HighOIStrikes returns, ascending, the strikes whose open interest is at or
// above the given percentile (90 = top decile).
func HighOIStrikes(oi map[int]int64, percentile float64) []int {
	if len(oi) == 0 {
		return nil
	}
	values := make([]float64, 0, len(oi))
	for _, v := range oi {
		values = append(values, float64(v))
	}
	cut, err := stats.Percentile(values, percentile)
	if err != nil {
		return nil
	}
	var out []int
	for strike, v := range oi {
		if float64(v) >= cut {
			out = append(out, strike)
		}
	}
	sort.Ints(out)
	return out
}

// NearestStrike picks the strike closest to price; ties go to the lower strike.
func NearestStrike(strikes []int, price float64) (int, bool) {
	if len(strikes) == 0 {
		return 0, false
	}
	best := strikes[0]
	bestDist := math.Abs(float64(best) - price)
	for _, s := range strikes[1:] {
		d := math.Abs(float64(s) - price)
		if d < bestDist || (d == bestDist && s < best) {
			best, bestDist = s, d
		}
	}
	return best, true
}
