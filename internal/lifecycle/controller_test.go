package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
	"github.com/Rajchodisetti/sensex-scalper/internal/risk"
)

var t0 = time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC) // 09:30 IST

func conservative() decision.Tier {
	return decision.Tier{Name: "conservative", ProfitTarget: 25, StopLoss: 25, Unit: decision.Points, MaxConcurrent: 1, MaxHolding: 30 * time.Minute}
}

func ist() decision.Session {
	return decision.Session{Location: time.FixedZone("IST", 330*60), Open: 9*time.Hour + 15*time.Minute, LateCutoff: 14 * time.Hour}
}

func order(dir decision.Direction, qty int64) risk.Order {
	return risk.Order{Tier: "conservative", Direction: dir, Quantity: qty, ReferencePrice: 80000, Confidence: 0.9}
}

func TestStopLossPath(t *testing.T) {
	c := NewController(ist())
	p, err := c.Open(order(decision.Long, 3), conservative(), 80000, t0, "paper-1")
	require.NoError(t, err)
	assert.Equal(t, 80025.0, p.Target)
	assert.Equal(t, 79975.0, p.Stop)

	assert.Empty(t, c.Due(79990, t0.Add(time.Second)))

	due := c.Due(79970, t0.Add(2*time.Second))
	require.Len(t, due, 1)
	assert.Equal(t, StatusStoppedOut, due[0].Status)

	rec, err := c.Close(due[0].PositionID, due[0].Status, due[0].Price, t0.Add(2*time.Second), due[0].Reason)
	require.NoError(t, err)
	assert.Equal(t, -90.0, rec.PnL)
	assert.Equal(t, StatusStoppedOut, rec.Status)
	assert.Less(t, rec.ReturnPct, 0.0)
	assert.Equal(t, 2.0, rec.HoldingSeconds)
	assert.Zero(t, c.OpenCount())
}

func TestPriceExits(t *testing.T) {
	tests := []struct {
		name  string
		dir   decision.Direction
		price float64
		want  Status
		pnl   float64
	}{
		{"long target", decision.Long, 80025, StatusTargetHit, 25},
		{"long above target", decision.Long, 80100, StatusTargetHit, 100},
		{"long stop", decision.Long, 79975, StatusStoppedOut, -25},
		{"long inside", decision.Long, 80010, StatusOpen, 0},
		{"short target", decision.Short, 79975, StatusTargetHit, 25},
		{"short stop", decision.Short, 80030, StatusStoppedOut, -30},
		{"short inside", decision.Short, 79990, StatusOpen, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(ist())
			_, err := c.Open(order(tt.dir, 1), conservative(), 80000, t0, "")
			require.NoError(t, err)
			due := c.Due(tt.price, t0.Add(time.Minute))
			if tt.want == StatusOpen {
				assert.Empty(t, due)
				return
			}
			require.Len(t, due, 1)
			assert.Equal(t, tt.want, due[0].Status)
			rec, err := c.Close(due[0].PositionID, due[0].Status, tt.price, t0.Add(time.Minute), due[0].Reason)
			require.NoError(t, err)
			assert.Equal(t, tt.pnl, rec.PnL)
		})
	}
}

func TestTargetAndStopAreExclusive(t *testing.T) {
	for _, dir := range []decision.Direction{decision.Long, decision.Short} {
		c := NewController(ist())
		_, err := c.Open(order(dir, 1), conservative(), 80000, t0, "")
		require.NoError(t, err)
		for price := 79900.0; price <= 80100; price += 5 {
			due := c.Due(price, t0.Add(time.Second))
			assert.LessOrEqual(t, len(due), 1)
		}
	}
}

func TestTimeExitBeatsPrice(t *testing.T) {
	c := NewController(ist())
	_, err := c.Open(order(decision.Long, 1), conservative(), 80000, t0, "")
	require.NoError(t, err)

	// price is through the target but the holding period has elapsed
	due := c.Due(80200, t0.Add(30*time.Minute))
	require.Len(t, due, 1)
	assert.Equal(t, StatusTimeExit, due[0].Status)
	assert.Equal(t, "max_holding", due[0].Reason)
}

func TestSquareOff(t *testing.T) {
	s := ist()
	s.SquareOff = 15*time.Hour + 20*time.Minute
	c := NewController(s)
	tier := conservative()
	tier.MaxHolding = 0
	at := time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC) // 15:15 IST
	_, err := c.Open(order(decision.Long, 1), tier, 80000, at, "")
	require.NoError(t, err)

	assert.Empty(t, c.Due(80001, at.Add(4*time.Minute)))
	due := c.Due(80001, at.Add(5*time.Minute))
	require.Len(t, due, 1)
	assert.Equal(t, StatusTimeExit, due[0].Status)
	assert.Equal(t, "square_off", due[0].Reason)
}

func TestManualClose(t *testing.T) {
	c := NewController(ist())
	_, err := c.Open(order(decision.Long, 1), conservative(), 80000, t0, "")
	require.NoError(t, err)
	o := order(decision.Short, 2)
	o.Tier = "forced"
	_, err = c.Open(o, conservative(), 80005, t0.Add(time.Second), "")
	require.NoError(t, err)

	assert.Equal(t, 2, c.RequestManualClose("force_close_all"))
	due := c.Due(80010, t0.Add(2*time.Second))
	require.Len(t, due, 2)
	for _, d := range due {
		assert.Equal(t, StatusManualExit, d.Status)
		assert.Equal(t, "force_close_all", d.Reason)
	}
	assert.Equal(t, "conservative", due[0].Tier)
	assert.Equal(t, "forced", due[1].Tier)
}

func TestExposure(t *testing.T) {
	c := NewController(ist())
	_, err := c.Open(order(decision.Long, 2), conservative(), 80000, t0, "")
	require.NoError(t, err)
	o := order(decision.Long, 1)
	o.Tier = "moderate"
	_, err = c.Open(o, conservative(), 80010, t0.Add(time.Second), "")
	require.NoError(t, err)

	e := c.Exposure("conservative")
	assert.Equal(t, 1, e.OpenForTier)
	assert.Equal(t, 2, e.OpenTotal)
	assert.Equal(t, 240010.0, e.CommittedNotional)
	assert.Equal(t, map[string]int{"conservative": 1, "moderate": 1}, c.OpenByTier())
	assert.Equal(t, 20.0, c.UnrealizedPnL(80010))
}

func TestDeterministicIDs(t *testing.T) {
	a := NewController(ist())
	b := NewController(ist())
	pa, err := a.Open(order(decision.Long, 1), conservative(), 80000, t0, "")
	require.NoError(t, err)
	pb, err := b.Open(order(decision.Long, 1), conservative(), 80000, t0, "")
	require.NoError(t, err)
	assert.Equal(t, pa.ID, pb.ID)

	pc, err := a.Open(order(decision.Long, 1), conservative(), 80000, t0, "")
	require.NoError(t, err)
	assert.NotEqual(t, pa.ID, pc.ID)
}

func TestCloseErrors(t *testing.T) {
	c := NewController(ist())
	_, err := c.Close("nope", StatusManualExit, 1, t0, "")
	assert.True(t, errors.Is(err, ErrUnknownPosition))

	p, err := c.Open(order(decision.Long, 1), conservative(), 80000, t0, "")
	require.NoError(t, err)
	_, err = c.Close(p.ID, StatusOpen, 80000, t0, "")
	assert.Error(t, err)

	_, err = c.Open(order(decision.Long, 0), conservative(), 80000, t0, "")
	assert.Error(t, err)
}
