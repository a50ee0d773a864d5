package lifecycle

import (
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
)

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusTargetHit  Status = "TARGET_HIT"
	StatusStoppedOut Status = "STOPPED_OUT"
	StatusTimeExit   Status = "TIME_EXIT"
	StatusManualExit Status = "MANUAL_EXIT"
)

// Terminal reports whether a position in status s is archived.
func (s Status) Terminal() bool {
	switch s {
	case StatusTargetHit, StatusStoppedOut, StatusTimeExit, StatusManualExit:
		return true
	}
	return false
}

// Position is one open or archived trade. Only the Controller mutates it.
type Position struct {
	ID          string             `json:"id"`
	Tier        string             `json:"tier"`
	Direction   decision.Direction `json:"direction"`
	EntryPrice  float64            `json:"entry_price"`
	EntryTime   time.Time          `json:"entry_time"`
	Quantity    int64              `json:"quantity"`
	Notional    float64            `json:"notional"`
	Target      float64            `json:"target"`
	Stop        float64            `json:"stop"`
	MaxHolding  time.Duration      `json:"max_holding"`
	Confidence  float64            `json:"confidence"`
	Forced      bool               `json:"forced"`
	Strike      int                `json:"strike,omitempty"`
	OrderID     string             `json:"order_id,omitempty"`
	Status      Status             `json:"status"`
	ExitPrice   float64            `json:"exit_price,omitempty"`
	ExitTime    time.Time          `json:"exit_time,omitempty"`
	ExitReason  string             `json:"exit_reason,omitempty"`
	RealizedPnL float64            `json:"realized_pnl,omitempty"`

	manual string // operator close requested, reason
}

// PnL at price: (price - entry) * qty * sign(direction).
func (p *Position) PnL(price float64) float64 {
	return (price - p.EntryPrice) * float64(p.Quantity) * p.Direction.Sign()
}

// priceExit checks target then stop. For a valid position target and stop
// sit on opposite sides of entry, so at most one can hold.
func (p *Position) priceExit(price float64) (Status, bool) {
	if p.Direction == decision.Short {
		switch {
		case price <= p.Target:
			return StatusTargetHit, true
		case price >= p.Stop:
			return StatusStoppedOut, true
		}
		return StatusOpen, false
	}
	switch {
	case price >= p.Target:
		return StatusTargetHit, true
	case price <= p.Stop:
		return StatusStoppedOut, true
	}
	return StatusOpen, false
}

// ClosedTradeRecord is the append-only ledger entry for an archived position.
type ClosedTradeRecord struct {
	PositionID     string             `json:"position_id"`
	Tier           string             `json:"tier"`
	Direction      decision.Direction `json:"direction"`
	EntryTime      time.Time          `json:"entry_time"`
	ExitTime       time.Time          `json:"exit_time"`
	EntryPrice     float64            `json:"entry_price"`
	ExitPrice      float64            `json:"exit_price"`
	Quantity       int64              `json:"quantity"`
	Notional       float64            `json:"notional"`
	PnL            float64            `json:"pnl"`
	ReturnPct      float64            `json:"return_pct"`
	Status         Status             `json:"status"`
	ExitReason     string             `json:"exit_reason"`
	HoldingSeconds float64            `json:"holding_seconds"`
	Confidence     float64            `json:"confidence"`
	Forced         bool               `json:"forced"`
	Strike         int                `json:"strike,omitempty"`
}

func recordOf(p *Position) ClosedTradeRecord {
	ret := 0.0
	if p.Notional > 0 {
		ret = p.RealizedPnL / p.Notional * 100
	}
	return ClosedTradeRecord{
		PositionID:     p.ID,
		Tier:           p.Tier,
		Direction:      p.Direction,
		EntryTime:      p.EntryTime,
		ExitTime:       p.ExitTime,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      p.ExitPrice,
		Quantity:       p.Quantity,
		Notional:       p.Notional,
		PnL:            p.RealizedPnL,
		ReturnPct:      ret,
		Status:         p.Status,
		ExitReason:     p.ExitReason,
		HoldingSeconds: p.ExitTime.Sub(p.EntryTime).Seconds(),
		Confidence:     p.Confidence,
		Forced:         p.Forced,
		Strike:         p.Strike,
	}
}
