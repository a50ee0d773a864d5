// Package regime maps realized volatility onto the confidence and move
// floors the strategy tiers gate on.
package regime

import (
	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

type Regime string

const (
	High   Regime = "high"
	Medium Regime = "medium"
	Low    Regime = "low"
)

type Band struct {
	MinVolatilityBps float64
	ConfidenceFloor  float64
	MoveFloor        float64 // points
}

// Table orders bands from most to least volatile. Low has no lower bound.
type Table struct {
	High   Band
	Medium Band
	Low    Band
}

func TableFromConfig(r config.Regimes) Table {
	conv := func(b config.RegimeBand) Band {
		return Band{MinVolatilityBps: b.MinVolatilityBps, ConfidenceFloor: b.ConfidenceFloor, MoveFloor: b.MoveFloor}
	}
	return Table{High: conv(r.High), Medium: conv(r.Medium), Low: conv(r.Low)}
}

func DefaultTable() Table {
	return TableFromConfig(config.Default().Regimes)
}

// State is the adapter's current reading. Downstream code only reads it.
type State struct {
	Regime          Regime  `json:"regime"`
	ConfidenceFloor float64 `json:"confidence_floor"`
	MoveFloor       float64 `json:"move_floor"`
	VolatilityBps   float64 `json:"volatility_bps"`
}

// Classify picks the band for a volatility reading. An undefined reading
// is treated as low volatility.
func (t Table) Classify(volBps float64, ready bool) State {
	st := State{Regime: Low, ConfidenceFloor: t.Low.ConfidenceFloor, MoveFloor: t.Low.MoveFloor, VolatilityBps: volBps}
	if !ready {
		st.VolatilityBps = 0
		return st
	}
	switch {
	case volBps > t.High.MinVolatilityBps:
		st.Regime, st.ConfidenceFloor, st.MoveFloor = High, t.High.ConfidenceFloor, t.High.MoveFloor
	case volBps > t.Medium.MinVolatilityBps:
		st.Regime, st.ConfidenceFloor, st.MoveFloor = Medium, t.Medium.ConfidenceFloor, t.Medium.MoveFloor
	}
	return st
}

// Adapter recomputes State on every tick.
type Adapter struct {
	table Table
	state State
}

func NewAdapter(t Table) *Adapter {
	return &Adapter{table: t, state: t.Classify(0, false)}
}

func (a *Adapter) Update(s indicator.Snapshot) State {
	next := a.table.Classify(s.VolatilityBps, s.VolatilityReady)
	if next.Regime != a.state.Regime {
		observ.Log("regime_changed", map[string]any{
			"from":           string(a.state.Regime),
			"to":             string(next.Regime),
			"volatility_bps": next.VolatilityBps,
		})
		observ.IncCounter("regime_transitions_total", map[string]string{"to": string(next.Regime)})
	}
	observ.SetGauge("volatility_bps", next.VolatilityBps, nil)
	a.state = next
	return next
}

func (a *Adapter) State() State { return a.state }
