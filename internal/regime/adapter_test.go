package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
)

func TestClassify(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		name      string
		vol       float64
		ready     bool
		regime    Regime
		confFloor float64
		moveFloor float64
	}{
		{"undefined is low", 500, false, Low, 0.70, 75},
		{"quiet", 10, true, Low, 0.70, 75},
		{"medium boundary is exclusive", 50, true, Low, 0.70, 75},
		{"medium", 75, true, Medium, 0.60, 40},
		{"high boundary is exclusive", 100, true, Medium, 0.60, 40},
		{"high", 140, true, High, 0.55, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := table.Classify(tt.vol, tt.ready)
			assert.Equal(t, tt.regime, st.Regime)
			assert.Equal(t, tt.confFloor, st.ConfidenceFloor)
			assert.Equal(t, tt.moveFloor, st.MoveFloor)
		})
	}
}

func TestAdapter_Update(t *testing.T) {
	a := NewAdapter(DefaultTable())
	assert.Equal(t, Low, a.State().Regime)

	st := a.Update(indicator.Snapshot{VolatilityBps: 120, VolatilityReady: true})
	assert.Equal(t, High, st.Regime)
	assert.Equal(t, st, a.State())

	st = a.Update(indicator.Snapshot{})
	assert.Equal(t, Low, st.Regime)
}

func TestTable_Override(t *testing.T) {
	table := Table{
		High:   Band{MinVolatilityBps: 20, ConfidenceFloor: 0.5, MoveFloor: 10},
		Medium: Band{MinVolatilityBps: 5, ConfidenceFloor: 0.6, MoveFloor: 15},
		Low:    Band{ConfidenceFloor: 0.8, MoveFloor: 30},
	}
	assert.Equal(t, Medium, table.Classify(6, true).Regime)
	assert.Equal(t, High, table.Classify(21, true).Regime)
}
