package broker

import (
	"context"

	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

type Outcome string

const (
	OutcomeFilled         Outcome = "filled"
	OutcomeRejected       Outcome = "rejected"
	OutcomeIrreconcilable Outcome = "irreconcilable"
)

// Resolution is the final word on a tracked order. Payload is whatever the
// caller attached in Track.
type Resolution struct {
	Intent  OrderIntent
	Ack     Ack
	Outcome Outcome
	Payload any
	Err     error // *IrreconcilableError when Outcome is irreconcilable
}

type tracked struct {
	intent  OrderIntent
	payload any
	polls   int
	lastErr error
}

// Reconciler follows orders whose submission outcome is unknown. Poll is
// called once per tick; each order gets at most maxPolls lookups.
type Reconciler struct {
	broker   Broker
	maxPolls int
	pending  []*tracked
}

func NewReconciler(b Broker, maxPolls int) *Reconciler {
	if maxPolls < 1 {
		maxPolls = 1
	}
	return &Reconciler{broker: b, maxPolls: maxPolls}
}

func (r *Reconciler) Track(in OrderIntent, payload any) {
	r.pending = append(r.pending, &tracked{intent: in, payload: payload})
	observ.SetGauge("orders_unreconciled", float64(len(r.pending)), nil)
}

func (r *Reconciler) Pending() int { return len(r.pending) }

// Poll looks up every pending order once and returns the ones that settled.
func (r *Reconciler) Poll(ctx context.Context) []Resolution {
	var out []Resolution
	keep := r.pending[:0]
	for _, t := range r.pending {
		t.polls++
		ack, err := r.broker.Lookup(ctx, t.intent.ClientOrderID)
		switch {
		case err == nil && ack.Status == StatusFilled:
			out = append(out, Resolution{Intent: t.intent, Ack: ack, Outcome: OutcomeFilled, Payload: t.payload})
			observ.Log("order_reconciled", map[string]any{"client_order_id": t.intent.ClientOrderID, "outcome": "filled", "polls": t.polls})
			continue
		case err == nil && ack.Status == StatusRejected:
			out = append(out, Resolution{Intent: t.intent, Ack: ack, Outcome: OutcomeRejected, Payload: t.payload})
			observ.Log("order_reconciled", map[string]any{"client_order_id": t.intent.ClientOrderID, "outcome": "rejected", "polls": t.polls})
			continue
		case err != nil:
			t.lastErr = err
		}
		if t.polls >= r.maxPolls {
			ie := &IrreconcilableError{ClientOrderID: t.intent.ClientOrderID, Polls: t.polls, LastErr: t.lastErr}
			out = append(out, Resolution{Intent: t.intent, Outcome: OutcomeIrreconcilable, Payload: t.payload, Err: ie})
			observ.IncCounter("orders_irreconcilable_total", map[string]string{"kind": string(t.intent.Kind)})
			observ.Error("order_irreconcilable", map[string]any{
				"client_order_id": t.intent.ClientOrderID,
				"tier":            t.intent.Tier,
				"polls":           t.polls,
				"error":           ie.Error(),
			})
			continue
		}
		keep = append(keep, t)
	}
	r.pending = keep
	observ.SetGauge("orders_unreconciled", float64(len(r.pending)), nil)
	return out
}
