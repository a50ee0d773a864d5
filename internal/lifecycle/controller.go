package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/risk"
)

var ErrUnknownPosition = errors.New("unknown position")

// positionNamespace scopes UUIDv5 position ids.
var positionNamespace = uuid.MustParse("6f1c2a4e-7d3b-5e9a-8c21-4b0f9d6a3e15")

// ExitDecision is a terminal transition the controller wants to make at the
// current tick. The caller forwards the exit order and then calls Close.
type ExitDecision struct {
	PositionID string
	Tier       string
	Direction  decision.Direction
	Quantity   int64
	Status     Status
	Price      float64
	Reason     string
}

// Controller owns every Position from entry to archive. It is driven from
// the tick loop and is not safe for concurrent use.
type Controller struct {
	session decision.Session
	open    map[string]*Position
	order   []string // open ids in entry order
	seq     int64
}

func NewController(session decision.Session) *Controller {
	return &Controller{session: session, open: map[string]*Position{}}
}

// Open books a filled entry. Target and stop are set from the fill price.
func (c *Controller) Open(o risk.Order, tier decision.Tier, fillPrice float64, at time.Time, orderID string) (Position, error) {
	if o.Quantity <= 0 {
		return Position{}, fmt.Errorf("open %s: quantity %d", o.Tier, o.Quantity)
	}
	if fillPrice <= 0 {
		return Position{}, fmt.Errorf("open %s: fill price %.2f", o.Tier, fillPrice)
	}
	c.seq++
	target, stop := tier.Levels(fillPrice, o.Direction)
	p := &Position{
		ID:         c.positionID(o.Tier, at),
		Tier:       o.Tier,
		Direction:  o.Direction,
		EntryPrice: fillPrice,
		EntryTime:  at,
		Quantity:   o.Quantity,
		Notional:   fillPrice * float64(o.Quantity),
		Target:     target,
		Stop:       stop,
		MaxHolding: tier.MaxHolding,
		Confidence: o.Confidence,
		Forced:     o.Signal.Forced,
		Strike:     o.Signal.Strike,
		OrderID:    orderID,
		Status:     StatusOpen,
	}
	c.open[p.ID] = p
	c.order = append(c.order, p.ID)

	observ.Log("position_opened", map[string]any{
		"position_id": p.ID,
		"tier":        p.Tier,
		"direction":   string(p.Direction),
		"entry_price": p.EntryPrice,
		"quantity":    p.Quantity,
		"target":      p.Target,
		"stop":        p.Stop,
		"forced":      p.Forced,
		"order_id":    orderID,
	})
	observ.SetGauge("open_positions", float64(len(c.open)), nil)
	return *p, nil
}

// positionID is deterministic for a given tier, entry time and sequence so
// replays produce identical ledgers.
func (c *Controller) positionID(tier string, at time.Time) string {
	key := fmt.Sprintf("%s|%d|%d", tier, at.UnixNano(), c.seq)
	return uuid.NewSHA1(positionNamespace, []byte(key)).String()
}

// Due returns the exits owed at this tick, in entry order. Per position the
// checks run operator close, max holding, session square-off, then price.
func (c *Controller) Due(price float64, at time.Time) []ExitDecision {
	var out []ExitDecision
	squareOff := c.session.PastSquareOff(at)
	for _, id := range c.order {
		p := c.open[id]
		status, reason := StatusOpen, ""
		switch {
		case p.manual != "":
			status, reason = StatusManualExit, p.manual
		case p.MaxHolding > 0 && at.Sub(p.EntryTime) >= p.MaxHolding:
			status, reason = StatusTimeExit, "max_holding"
		case squareOff:
			status, reason = StatusTimeExit, "square_off"
		default:
			if s, ok := p.priceExit(price); ok {
				status = s
				reason = string(s)
			}
		}
		if status == StatusOpen {
			continue
		}
		out = append(out, ExitDecision{
			PositionID: p.ID,
			Tier:       p.Tier,
			Direction:  p.Direction,
			Quantity:   p.Quantity,
			Status:     status,
			Price:      price,
			Reason:     reason,
		})
	}
	return out
}

// RequestManualClose flags every open position for MANUAL_EXIT on the next
// Due call and returns how many were flagged.
func (c *Controller) RequestManualClose(reason string) int {
	if reason == "" {
		reason = "manual"
	}
	for _, p := range c.open {
		p.manual = reason
	}
	return len(c.open)
}

// Close archives a position and returns its ledger record.
func (c *Controller) Close(id string, status Status, price float64, at time.Time, reason string) (ClosedTradeRecord, error) {
	p, ok := c.open[id]
	if !ok {
		return ClosedTradeRecord{}, fmt.Errorf("close %s: %w", id, ErrUnknownPosition)
	}
	if !status.Terminal() {
		return ClosedTradeRecord{}, fmt.Errorf("close %s: status %s is not terminal", id, status)
	}
	p.Status = status
	p.ExitPrice = price
	p.ExitTime = at
	p.ExitReason = reason
	p.RealizedPnL = p.PnL(price)

	delete(c.open, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	rec := recordOf(p)
	observ.Log("position_closed", map[string]any{
		"position_id": p.ID,
		"tier":        p.Tier,
		"status":      string(status),
		"exit_price":  price,
		"pnl":         rec.PnL,
		"reason":      reason,
	})
	observ.IncCounter("positions_closed_total", map[string]string{"tier": p.Tier, "status": string(status)})
	observ.SetGauge("open_positions", float64(len(c.open)), nil)
	return rec, nil
}

// Exposure is the open-book view for the risk manager.
func (c *Controller) Exposure(tier string) risk.Exposure {
	e := risk.Exposure{OpenTotal: len(c.open)}
	for _, id := range c.order {
		p := c.open[id]
		if p.Tier == tier {
			e.OpenForTier++
		}
		e.CommittedNotional += p.Notional
	}
	return e
}

func (c *Controller) OpenCount() int { return len(c.open) }

// OpenByTier counts open positions per tier.
func (c *Controller) OpenByTier() map[string]int {
	out := map[string]int{}
	for _, p := range c.open {
		out[p.Tier]++
	}
	return out
}

// Positions returns copies of the open positions in entry order.
func (c *Controller) Positions() []Position {
	out := make([]Position, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.open[id])
	}
	return out
}

// UnrealizedPnL marks every open position at price.
func (c *Controller) UnrealizedPnL(price float64) float64 {
	total := 0.0
	for _, id := range c.order {
		total += c.open[id].PnL(price)
	}
	return total
}
