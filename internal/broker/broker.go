package broker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/decision"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Kind separates opening orders from closing ones.
type Kind string

const (
	KindEntry Kind = "entry"
	KindExit  Kind = "exit"
)

// OrderIntent is what the engine asks the broker to do.
type OrderIntent struct {
	ClientOrderID  string             `json:"client_order_id"`
	Symbol         string             `json:"symbol"`
	Tier           string             `json:"tier"`
	Direction      decision.Direction `json:"direction"`
	Side           Side               `json:"side"`
	Quantity       int64              `json:"quantity"`
	ReferencePrice float64            `json:"reference_price"`
	Kind           Kind               `json:"kind"`
	OrderKind      string             `json:"order_kind"` // market only
	PositionID     string             `json:"position_id,omitempty"`
	Strike         int                `json:"strike,omitempty"`
}

// SideFor maps a position direction to the order side for kind.
func SideFor(dir decision.Direction, kind Kind) Side {
	buy := dir == decision.Long
	if kind == KindExit {
		buy = !buy
	}
	if buy {
		return Buy
	}
	return Sell
}

type Status string

const (
	StatusFilled   Status = "filled"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

// Ack is the broker's answer for one order.
type Ack struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Status        Status  `json:"status"`
	FillPrice     float64 `json:"fill_price,omitempty"`
}

// Broker is the order collaborator. Implementations must treat
// ClientOrderID as an idempotency key.
type Broker interface {
	Submit(ctx context.Context, intent OrderIntent) (Ack, error)
	Lookup(ctx context.Context, clientOrderID string) (Ack, error)
}

// ClientOrderID derives a stable id from the order's identity so a
// replayed tick resubmits under the same key.
func ClientOrderID(tier string, kind Kind, ts time.Time, seq int64) string {
	data := fmt.Sprintf("%s-%s-%d-%d", tier, kind, ts.UnixNano(), seq)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("sx-%x", hash[:8])
}

// SubmissionError is a failed or unconfirmed submission. No position exists
// for the order. Unknown means the outcome must be reconciled by polling.
type SubmissionError struct {
	Type          string // "timeout", "rate_limit", "rejected", "broker_error"
	ClientOrderID string
	Message       string
	Unknown       bool
	Cause         error
}

func (e *SubmissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s submitting %s: %s (%v)", e.Type, e.ClientOrderID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s submitting %s: %s", e.Type, e.ClientOrderID, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

func NewTimeoutError(clientOrderID string, cause error) *SubmissionError {
	return &SubmissionError{Type: "timeout", ClientOrderID: clientOrderID, Message: "no response before deadline", Unknown: true, Cause: cause}
}

func NewRateLimitError(clientOrderID string, cause error) *SubmissionError {
	return &SubmissionError{Type: "rate_limit", ClientOrderID: clientOrderID, Message: "throttled before send", Cause: cause}
}

func NewRejectedError(clientOrderID, message string) *SubmissionError {
	return &SubmissionError{Type: "rejected", ClientOrderID: clientOrderID, Message: message}
}

func NewBrokerError(clientOrderID string, cause error) *SubmissionError {
	return &SubmissionError{Type: "broker_error", ClientOrderID: clientOrderID, Message: "submission failed", Cause: cause}
}

// IrreconcilableError means an unknown-outcome order could not be confirmed
// within the polling budget. It needs an operator.
type IrreconcilableError struct {
	ClientOrderID string
	Polls         int
	LastErr       error
}

func (e *IrreconcilableError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("order %s irreconcilable after %d polls: %v", e.ClientOrderID, e.Polls, e.LastErr)
	}
	return fmt.Sprintf("order %s irreconcilable after %d polls", e.ClientOrderID, e.Polls)
}

func (e *IrreconcilableError) Unwrap() error { return e.LastErr }
